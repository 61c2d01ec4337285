package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codesearch/internal/searcher"
	"github.com/dshills/codesearch/internal/storage"
)

func statsCmd(configPath *string) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the saved snapshot and index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.store.SnapshotInfo(ctx)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			if err := a.restore(ctx); err != nil {
				return err
			}

			st := a.searcher.Stats()
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"snapshot": info,
					"stats":    st,
				})
			}
			printStats(cmd.OutOrStdout(), info, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print statistics as JSON")
	return cmd
}

func printStats(w io.Writer, info *storage.SnapshotInfo, st searcher.Stats) {
	fmt.Fprintf(w, "Storage: %s driver (%s build)\n", storage.DriverName, storage.BuildMode)
	if info == nil {
		fmt.Fprintln(w, "Snapshot: none")
	} else {
		fmt.Fprintf(w, "Snapshot: generation %d, format %s, %d units, saved %s\n",
			info.Generation, info.FormatVersion, info.Units, info.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Roots: %v\n", info.Roots)
	}

	if st.Index == nil {
		fmt.Fprintln(w, "Index: not loaded")
		return
	}
	idx := st.Index
	fmt.Fprintf(w, "Index: generation %d, %s/%s, %d dimensions\n", idx.Generation, idx.Type, idx.Metric, idx.Dimension)
	if idx.Partitions > 0 {
		fmt.Fprintf(w, "  Partitions: %d (probing %d)\n", idx.Partitions, idx.NProbe)
	}
	fmt.Fprintf(w, "  Units: %d from %d files (%d lines), %d skipped, %d unreadable\n",
		idx.Units, idx.Files, idx.Lines, idx.FilesSkipped, idx.FilesUnreadable)
	fmt.Fprintf(w, "  Repos: %v\n", idx.Repos)
	fmt.Fprintf(w, "  Embedder: %s/%s\n", idx.Provider, idx.Model)
	fmt.Fprintf(w, "Cache: %d/%d entries\n", st.Cache.Size, st.Cache.Capacity)
}
