package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codesearch/internal/embedder"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/internal/index/qdrant"
	"github.com/dshills/codesearch/internal/loader"
	"github.com/dshills/codesearch/internal/telemetry"
	"github.com/dshills/codesearch/pkg/types"
)

// DefaultBatchSize is the number of units sent to the embedder per request
const DefaultBatchSize = embedder.DefaultBatchSize

// Indexer coordinates the build pipeline: load -> embed -> index
type Indexer struct {
	loader   *loader.Loader
	embedder embedder.Embedder
	cfg      Config
	logger   *slog.Logger
}

// Config contains configuration for the indexer
type Config struct {
	Workers   int // Concurrent embedding requests (default: runtime.NumCPU())
	BatchSize int // Units per embedding request (default: 50)

	Index index.Config

	// Qdrant is used when Index.Type is "qdrant". Collection is a prefix;
	// each generation gets its own collection.
	Qdrant qdrant.Config
}

// Statistics contains statistics about a build
type Statistics struct {
	Roots           []string
	Repos           []string
	FilesIndexed    int
	FilesSkipped    int
	FilesUnreadable int
	FilesTruncated  int
	Units           int
	Lines           int
	Batches         int
	Duration        time.Duration
	ErrorMessages   []string
}

// New creates a new Indexer instance
func New(l *loader.Loader, emb embedder.Embedder, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > embedder.MaxBatchSize {
		cfg.BatchSize = embedder.MaxBatchSize
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = index.TypeFlat
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = index.Cosine
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{loader: l, embedder: emb, cfg: cfg, logger: logger}
}

// Embedder returns the embedder used for units and queries
func (idx *Indexer) Embedder() embedder.Embedder { return idx.embedder }

// IndexType returns the configured index kind
func (idx *Indexer) IndexType() string { return idx.cfg.Index.Type }

// Metric returns the configured distance metric
func (idx *Indexer) Metric() index.Metric { return idx.cfg.Index.Metric }

// Build loads every root, embeds all units and builds a new generation.
// Nothing is shared with any existing generation; on failure the error
// wraps types.ErrBuild and nothing needs cleaning up by the caller.
func (idx *Indexer) Build(ctx context.Context, genID uint64, roots ...string) (gen *Generation, err error) {
	ctx, span := telemetry.StartBuildSpan(ctx, genID, roots)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	start := time.Now()
	idx.logger.Info("index build started", "generation", genID, "roots", roots)

	units, loadStats, err := idx.loader.Load(ctx, roots...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrBuild, err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: no code units found under %v", types.ErrBuild, roots)
	}

	entries, batches, err := idx.EmbedUnits(ctx, units)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrBuild, err)
	}

	vi, err := idx.buildIndex(ctx, genID, entries)
	if err != nil {
		return nil, err
	}

	gen = newGeneration(genID, vi, units, entries)
	gen.Provider = idx.embedder.Provider()
	gen.Model = idx.embedder.Model()
	gen.stats = Statistics{
		Roots:           slices.Clone(roots),
		Repos:           repoNames(roots),
		FilesIndexed:    loadStats.FilesIndexed,
		FilesSkipped:    loadStats.FilesSkipped,
		FilesUnreadable: loadStats.FilesUnreadable,
		FilesTruncated:  loadStats.FilesTruncated,
		Units:           len(units),
		Lines:           loadStats.Lines,
		Batches:         batches,
		Duration:        time.Since(start),
		ErrorMessages:   loadStats.ErrorMessages,
	}
	telemetry.RecordBuildResult(span, loadStats.FilesIndexed, len(units))

	idx.logger.Info("index build complete",
		"generation", genID,
		"units", len(units),
		"files", loadStats.FilesIndexed,
		"skipped", loadStats.FilesSkipped,
		"unreadable", loadStats.FilesUnreadable,
		"index", vi.Type(),
		"duration", gen.stats.Duration,
	)
	return gen, nil
}

// Restore rebuilds a generation from persisted units and vectors without
// calling the embedder. Every entry must belong to a unit.
func (idx *Indexer) Restore(ctx context.Context, genID uint64, units []types.CodeUnit, entries []index.Entry, stats Statistics) (*Generation, error) {
	known := make(map[int64]struct{}, len(units))
	for _, u := range units {
		known[u.ID] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := known[e.ID]; !ok {
			return nil, fmt.Errorf("%w: vector for unknown unit %d", types.ErrBuild, e.ID)
		}
	}
	if len(entries) != len(units) {
		return nil, fmt.Errorf("%w: %d units but %d vectors", types.ErrBuild, len(units), len(entries))
	}

	vi, err := idx.buildIndex(ctx, genID, entries)
	if err != nil {
		return nil, err
	}
	gen := newGeneration(genID, vi, units, entries)
	gen.Provider = idx.embedder.Provider()
	gen.Model = idx.embedder.Model()
	gen.stats = stats
	gen.stats.Units = len(units)
	return gen, nil
}

// EmbedUnits embeds units in batches using a bounded worker pool.
// The returned entries are in unit order.
func (idx *Indexer) EmbedUnits(ctx context.Context, units []types.CodeUnit) ([]index.Entry, int, error) {
	entries := make([]index.Entry, len(units))
	want := idx.embedder.Dimension()

	var batches atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)

	for start := 0; start < len(units); start += idx.cfg.BatchSize {
		end := min(start+idx.cfg.BatchSize, len(units))
		batch := units[start:end]
		offset := start

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, u := range batch {
				texts[i] = EmbedText(u)
			}

			vecs, err := idx.embedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("%w: got %d embeddings for %d texts", embedder.ErrProviderFailed, len(vecs), len(batch))
			}
			if err := embedder.CheckDimension(vecs, want); err != nil {
				return err
			}

			for i, v := range vecs {
				entries[offset+i] = index.Entry{ID: batch[i].ID, Vector: v.Vector}
			}
			batches.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return entries, int(batches.Load()), nil
}

func (idx *Indexer) embedBatch(ctx context.Context, texts []string) (vecs []*embedder.Embedding, err error) {
	ctx, span := telemetry.StartEmbedSpan(ctx, idx.embedder.Provider(), idx.embedder.Model(), len(texts))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// EmbedQuery embeds a single query text
func (idx *Indexer) EmbedQuery(ctx context.Context, text string) (vec []float32, err error) {
	ctx, span := telemetry.StartEmbedSpan(ctx, idx.embedder.Provider(), idx.embedder.Model(), 1)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	emb, err := idx.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	if want := idx.embedder.Dimension(); want > 0 && len(emb.Vector) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", embedder.ErrDimensionMismatch, len(emb.Vector), want)
	}
	return emb.Vector, nil
}

// EmbedText is the text sent to the embedder for a unit. The path and
// declaration name are prepended so they contribute to similarity.
func EmbedText(u types.CodeUnit) string {
	header := u.SourcePath
	if u.Name != "" {
		header += " " + u.Name
	}
	if header == "" {
		return u.Text
	}
	return header + "\n" + u.Text
}

func (idx *Indexer) buildIndex(ctx context.Context, genID uint64, entries []index.Entry) (index.Index, error) {
	cfg := idx.cfg.Index
	if cfg.Dimension <= 0 {
		cfg.Dimension = idx.embedder.Dimension()
	}

	if cfg.Type != qdrant.TypeQdrant {
		vi, err := index.Build(ctx, cfg, entries)
		if err != nil {
			return nil, err
		}
		return vi, nil
	}

	qcfg := idx.cfg.Qdrant
	qcfg.Collection = CollectionName(qcfg.Collection, genID)
	qcfg.Metric = cfg.Metric
	qcfg.Dimension = cfg.Dimension
	vi, err := qdrant.Build(ctx, qcfg, entries)
	if err != nil {
		if errors.Is(err, types.ErrBuild) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrBuild, err)
	}
	return vi, nil
}

// CollectionName names the Qdrant collection holding one generation
func CollectionName(prefix string, genID uint64) string {
	if prefix == "" {
		prefix = "codesearch"
	}
	return fmt.Sprintf("%s_g%d", prefix, genID)
}

func repoNames(roots []string) []string {
	names := make([]string, 0, len(roots))
	for _, r := range roots {
		names = append(names, filepath.Base(filepath.Clean(r)))
	}
	return names
}
