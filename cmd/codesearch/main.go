package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codesearch/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "codesearch",
		Short:         "Semantic code search over local source trees",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"codesearch {{.Version}}\nBuild Time: %s\nBuild Mode: %s\nSQLite Driver: %s\n",
		buildTime, storage.BuildMode, storage.DriverName))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ./codesearch.yaml or ~/.codesearch/codesearch.yaml)")

	rootCmd.AddCommand(
		indexCmd(&configPath),
		serveCmd(&configPath),
		searchCmd(&configPath),
		statsCmd(&configPath),
		embedCmd(&configPath),
		loadtestCmd(&configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
