package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/codesearch/internal/mcp"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the saved index to MCP clients over stdio",
		Args:  cobra.NoArgs,
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

			server := mcp.NewServer(a.searcher, a.store, mcp.Options{
				DefaultLimit: a.cfg.Search.DefaultLimit,
				MaxLimit:     a.cfg.Search.MaxLimit,
			}, a.logger)

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Serve(ctx)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("received shutdown signal, stopping")
				return nil
			case err := <-errChan:
				if err != nil {
					return err
				}
				a.logger.Info("client disconnected, stopping")
				return nil
			}
		},
	}
}
