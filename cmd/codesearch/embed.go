package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/vec/search"

	"github.com/dshills/codesearch/internal/config"
	"github.com/dshills/codesearch/internal/embedder"
)

// previewValues is how many leading vector components embed prints
const previewValues = 8

func embedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "embed <text>",
		Short: "Embed text with the configured provider and print a summary of the vector",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			emb, err := embedder.New(cfg.EmbedderConfig())
			if err != nil {
				return fmt.Errorf("init embedder: %w", err)
			}
			defer func() { _ = emb.Close() }()

			start := time.Now()
			e, err := emb.GenerateEmbedding(cmd.Context(), embedder.EmbeddingRequest{Text: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			printEmbedding(cmd.OutOrStdout(), e, time.Since(start))
			return nil
		},
	}
}

func printEmbedding(w io.Writer, e *embedder.Embedding, took time.Duration) {
	n := min(previewValues, len(e.Vector))
	parts := make([]string, n)
	for i, v := range e.Vector[:n] {
		parts[i] = fmt.Sprintf("%.4f", v)
	}
	more := ""
	if len(e.Vector) > n {
		more = ", ..."
	}

	fmt.Fprintf(w, "Provider:  %s\n", e.Provider)
	fmt.Fprintf(w, "Model:     %s\n", e.Model)
	fmt.Fprintf(w, "Dimension: %d\n", len(e.Vector))
	fmt.Fprintf(w, "Norm:      %.4f\n", search.Float32s(e.Vector).Magnitude())
	fmt.Fprintf(w, "Vector:    [%s%s]\n", strings.Join(parts, ", "), more)
	fmt.Fprintf(w, "Took:      %s\n", took)
}
