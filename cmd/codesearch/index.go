package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codesearch/internal/indexer"
	"github.com/dshills/codesearch/internal/storage"
)

func indexCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "index <path> [path...]",
		Short: "Build the index from source trees and save it as the active snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			gen, err := a.indexer.Build(ctx, a.nextGeneration(ctx), args...)
			if err != nil {
				return err
			}
			a.searcher.Install(gen)

			if err := a.store.SaveSnapshot(ctx, storage.FromGeneration(gen)); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}

			printBuildSummary(cmd.OutOrStdout(), gen)
			return nil
		},
	}
}

func printBuildSummary(w io.Writer, gen *indexer.Generation) {
	st := gen.Stats()
	fmt.Fprintf(w, "Indexed generation %d\n", gen.ID)
	fmt.Fprintf(w, "  Repos:       %v\n", st.Repos)
	fmt.Fprintf(w, "  Files:       %d indexed, %d skipped, %d unreadable, %d truncated\n",
		st.FilesIndexed, st.FilesSkipped, st.FilesUnreadable, st.FilesTruncated)
	fmt.Fprintf(w, "  Units:       %d (%d lines)\n", st.Units, st.Lines)
	fmt.Fprintf(w, "  Embeddings:  %s/%s, %d batches\n", gen.Provider, gen.Model, st.Batches)
	fmt.Fprintf(w, "  Index:       %s (%s, %d dimensions)\n",
		gen.Index().Type(), gen.Index().Metric(), gen.Index().Dimension())
	fmt.Fprintf(w, "  Duration:    %s\n", st.Duration.Round(time.Millisecond))
}
