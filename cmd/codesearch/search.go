package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codesearch/internal/searcher"
)

func searchCmd(configPath *string) *cobra.Command {
	var (
		limit    int
		jsonOut  bool
		snippets bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one query against the saved index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.restore(ctx); err != nil {
				return err
			}

			if limit <= 0 {
				limit = a.cfg.Search.DefaultLimit
			}
			resp, err := a.searcher.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printResults(cmd.OutOrStdout(), resp, snippets)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default: search.default_limit)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the response as JSON")
	cmd.Flags().BoolVar(&snippets, "show", false, "Print snippet text under each hit")
	return cmd
}

func printResults(w io.Writer, resp *searcher.Response, snippets bool) {
	cached := ""
	if resp.Cached {
		cached = ", cached"
	}
	fmt.Fprintf(w, "%d results in %s (generation %d%s)\n",
		len(resp.Results), resp.Duration, resp.Generation, cached)

	for _, r := range resp.Results {
		name := ""
		if r.Unit.Name != "" {
			name = " " + r.Unit.Name
		}
		fmt.Fprintf(w, "%3d. %.4f  %s:%d-%d%s\n",
			r.Rank, r.Score, r.Unit.SourcePath, r.Unit.StartLine, r.Unit.EndLine, name)
		if snippets {
			for _, line := range strings.Split(strings.TrimRight(r.Unit.Text, "\n"), "\n") {
				fmt.Fprintf(w, "       | %s\n", line)
			}
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
