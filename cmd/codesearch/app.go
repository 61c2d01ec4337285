package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/codesearch/internal/cache"
	"github.com/dshills/codesearch/internal/config"
	"github.com/dshills/codesearch/internal/embedder"
	"github.com/dshills/codesearch/internal/indexer"
	"github.com/dshills/codesearch/internal/loader"
	"github.com/dshills/codesearch/internal/metrics"
	"github.com/dshills/codesearch/internal/searcher"
	"github.com/dshills/codesearch/internal/storage"
	"github.com/dshills/codesearch/internal/telemetry"
	"github.com/dshills/codesearch/pkg/types"
)

// app holds the components every subcommand is assembled from
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tracing  *telemetry.TracerProvider
	embedder embedder.Embedder
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	store    storage.Store
}

// newApp loads configuration and wires the pipeline. The snapshot store
// is opened but nothing is restored yet.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	for _, w := range cfg.Validate() {
		logger.Warn("config", "warning", w)
	}

	tp, err := telemetry.InitTracing(ctx, cfg.TracingConfig(version))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.Path)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("open storage: %w", err)
	}

	idx := indexer.New(loader.New(cfg.LoaderConfig(), logger), emb, cfg.IndexerConfig(), logger)
	srch := searcher.New(idx, cache.New(cfg.Cache.Capacity), metrics.New(), cfg.SearchOptions(), logger)

	logger.Debug("components ready",
		"provider", emb.Provider(),
		"model", emb.Model(),
		"index", idx.IndexType(),
		"storage", cfg.Storage.Path,
		"build_mode", storage.BuildMode)

	return &app{
		cfg:      cfg,
		logger:   logger,
		tracing:  tp,
		embedder: emb,
		indexer:  idx,
		searcher: srch,
		store:    store,
	}, nil
}

// restore installs the persisted snapshot, if any. A missing or
// incompatible snapshot leaves the searcher empty and is not an error.
func (a *app) restore(ctx context.Context) error {
	start := time.Now()
	snap, err := a.store.LoadSnapshot(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		a.logger.Info("no snapshot found, run 'codesearch index' first")
		return nil
	}
	var gen *indexer.Generation
	if err == nil {
		gen, err = storage.Restore(ctx, a.indexer, snap)
	}
	if errors.Is(err, types.ErrIncompatibleSnapshot) {
		a.logger.Warn("ignoring snapshot, rebuild with 'codesearch index'", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	a.searcher.Install(gen)
	a.logger.Info("snapshot restored",
		"generation", gen.ID,
		"units", gen.Len(),
		"duration", time.Since(start))
	return nil
}

// nextGeneration picks a generation number above the persisted one so a
// fresh build never reuses a remote collection name
func (a *app) nextGeneration(ctx context.Context) uint64 {
	if info, err := a.store.SnapshotInfo(ctx); err == nil {
		a.searcher.SkipGenerations(info.Generation)
	}
	return a.searcher.NextGenerationID()
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.searcher.Close(); err != nil {
		a.logger.Warn("closing searcher", "error", err)
	}
	if err := a.embedder.Close(); err != nil {
		a.logger.Warn("closing embedder", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("flushing traces", "error", err)
	}
}
