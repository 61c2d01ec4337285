package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codesearch/internal/cache"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/internal/indexer"
	"github.com/dshills/codesearch/internal/metrics"
	"github.com/dshills/codesearch/internal/telemetry"
	"github.com/dshills/codesearch/pkg/types"
)

const (
	DefaultLimit     = 10
	DefaultOverfetch = 2
	DefaultTimeout   = 5 * time.Second

	// DefaultMaxLimit is the largest limit outer surfaces accept by
	// default. Search itself returns every unit for any larger limit.
	DefaultMaxLimit = 100
)

// Options tunes query handling
type Options struct {
	Timeout   time.Duration // Per-query deadline; negative disables it
	Overfetch int           // Index is asked for limit*Overfetch neighbors before re-ranking
}

// Response contains search results and metadata
type Response struct {
	Results    []types.SearchResult
	Generation uint64
	Cached     bool
	Duration   time.Duration
}

// state pairs the serving generation with the tag cache entries are
// stored under. The tag advances on every swap and every incremental add,
// so entries computed against an older view are never served.
type state struct {
	gen      *indexer.Generation
	cacheGen uint64
}

// Searcher owns the serving generation, the query cache and the metrics
type Searcher struct {
	indexer *indexer.Indexer
	cache   *cache.Cache
	metrics *metrics.Collector
	opts    Options
	logger  *slog.Logger

	current atomic.Pointer[state]
	nextGen atomic.Uint64

	rebuild sync.Mutex // held for a whole Rebuild, only ever TryLocked
	swapMu  sync.Mutex // serializes writers of current
}

// New creates a Searcher. A nil cache or collector gets a fresh default one.
func New(idx *indexer.Indexer, c *cache.Cache, m *metrics.Collector, opts Options, logger *slog.Logger) *Searcher {
	if c == nil {
		c = cache.New(cache.DefaultCapacity)
	}
	if m == nil {
		m = metrics.New()
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = DefaultOverfetch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		indexer: idx,
		cache:   c,
		metrics: m,
		opts:    opts,
		logger:  logger,
	}
}

// Search answers a query with at most limit results ordered by
// non-increasing score. Repeating a query against the same generation is
// served from the cache without calling the embedder or the index.
func (s *Searcher) Search(ctx context.Context, raw string, limit int) (resp *Response, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSearchSpan(ctx, limit)
	defer func() {
		telemetry.RecordError(span, err)
		if resp != nil {
			telemetry.RecordSearchResult(span, len(resp.Results), resp.Cached, resp.Generation)
		}
		span.End()
	}()

	resp, err = s.search(ctx, raw, limit)
	elapsed := time.Since(start)
	switch {
	case err != nil:
		s.metrics.RecordError(err, elapsed)
		return nil, err
	case resp.Cached:
		s.metrics.RecordHit(elapsed)
	default:
		s.metrics.RecordMiss(elapsed)
	}
	resp.Duration = elapsed
	return resp, nil
}

func (s *Searcher) search(ctx context.Context, raw string, limit int) (*Response, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidQuery)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", types.ErrInvalidQuery, limit)
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	key := cache.Key{Query: cache.Normalize(query), Limit: limit}

	// A generation retired between load and search is retried on its successor
	for attempt := 0; ; attempt++ {
		st := s.current.Load()
		if st == nil {
			return nil, types.ErrNoIndex
		}

		if ranked, ok := s.cache.Get(key, st.cacheGen); ok {
			return &Response{
				Results:    hydrate(st.gen, ranked),
				Generation: st.gen.ID,
				Cached:     true,
			}, nil
		}

		// The normalized form is embedded so the embedder's own cache
		// sees one text per cache key
		ranked, err := s.rank(ctx, st.gen, key.Query, limit)
		if errors.Is(err, indexer.ErrRetired) && attempt < 2 {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.cache.Put(key, st.cacheGen, ranked)
		return &Response{
			Results:    hydrate(st.gen, ranked),
			Generation: st.gen.ID,
		}, nil
	}
}

// rank embeds the query, over-fetches neighbors and re-ranks them by
// (score desc, id asc), keeping at most limit.
func (s *Searcher) rank(ctx context.Context, gen *indexer.Generation, query string, limit int) ([]types.ScoredID, error) {
	vec, err := s.indexer.EmbedQuery(ctx, query)
	if err != nil {
		if timedOut(ctx, err) {
			return nil, fmt.Errorf("%w: embed query: %w", types.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", types.ErrEmbedding, err)
	}

	vi := gen.Index()
	k := limit
	if limit <= math.MaxInt/s.opts.Overfetch {
		k = limit * s.opts.Overfetch
	}
	ictx, span := telemetry.StartIndexSearchSpan(ctx, vi.Type(), gen.ID, k)
	neighbors, err := gen.Search(ictx, vec, k)
	telemetry.RecordError(span, err)
	span.End()
	if err != nil {
		if timedOut(ctx, err) {
			return nil, fmt.Errorf("%w: index search: %w", types.ErrTimeout, err)
		}
		return nil, err
	}

	ranked := make([]types.ScoredID, 0, len(neighbors))
	for _, n := range neighbors {
		ranked = append(ranked, types.ScoredID{ID: n.ID, Score: index.Similarity(vi.Metric(), n.Distance)})
	}
	slices.SortStableFunc(ranked, compareScored)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func compareScored(a, b types.ScoredID) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// hydrate maps ranked ids to units of the generation they were computed against
func hydrate(gen *indexer.Generation, ranked []types.ScoredID) []types.SearchResult {
	results := make([]types.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		unit, ok := gen.Unit(r.ID)
		if !ok {
			continue
		}
		results = append(results, types.SearchResult{
			Unit:  unit,
			Score: r.Score,
			Rank:  len(results) + 1,
		})
	}
	return results
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// Rebuild builds a new generation from roots off to the side and swaps it
// in. Only one rebuild runs at a time; a concurrent call fails with
// types.ErrRebuildInProgress. On failure the serving generation is kept.
func (s *Searcher) Rebuild(ctx context.Context, roots ...string) (uint64, error) {
	if !s.rebuild.TryLock() {
		return 0, types.ErrRebuildInProgress
	}
	defer s.rebuild.Unlock()

	genID := s.nextGen.Add(1)
	gen, err := s.indexer.Build(ctx, genID, roots...)
	if err != nil {
		s.logger.Warn("rebuild failed, keeping current generation",
			"generation", genID, "error", err)
		return 0, err
	}

	s.swap(gen)
	return genID, nil
}

// Install makes a prebuilt generation current, typically one restored from
// a snapshot. Later rebuilds get higher generation numbers.
func (s *Searcher) Install(gen *indexer.Generation) {
	s.SkipGenerations(gen.ID)
	s.swap(gen)
}

// SkipGenerations makes sure later generation ids are above id
func (s *Searcher) SkipGenerations(id uint64) {
	for {
		cur := s.nextGen.Load()
		if id <= cur || s.nextGen.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (s *Searcher) swap(gen *indexer.Generation) {
	s.swapMu.Lock()
	var cacheGen uint64 = 1
	if prev := s.current.Load(); prev != nil {
		cacheGen = prev.cacheGen + 1
	}
	old := s.current.Swap(&state{gen: gen, cacheGen: cacheGen})
	s.cache.InvalidateAll()
	s.swapMu.Unlock()

	s.logger.Info("generation installed", "generation", gen.ID, "units", gen.Len())

	if old != nil && old.gen != gen {
		if err := old.gen.Close(); err != nil {
			s.logger.Warn("closing retired generation", "generation", old.gen.ID, "error", err)
		}
	}
}

// Generation returns the serving generation, or nil before the first install
func (s *Searcher) Generation() *indexer.Generation {
	if st := s.current.Load(); st != nil {
		return st.gen
	}
	return nil
}

// NextGenerationID reserves the id for a generation built outside Rebuild
func (s *Searcher) NextGenerationID() uint64 {
	return s.nextGen.Add(1)
}

// Add embeds a unit and inserts it into the serving generation. A zero id
// takes the next free id. Static indexes fail with
// types.ErrUnsupportedOperation and nothing changes. The embedding call runs
// without holding the swap lock; the unit goes into whichever generation is
// serving once it returns.
func (s *Searcher) Add(ctx context.Context, unit types.CodeUnit) (int64, error) {
	st := s.current.Load()
	if st == nil {
		return 0, types.ErrNoIndex
	}
	if err := checkAddable(st.gen, unit); err != nil {
		return 0, err
	}

	vec, err := s.indexer.EmbedQuery(ctx, indexer.EmbedText(unit))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", types.ErrEmbedding, err)
	}

	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	st = s.current.Load()
	if st == nil {
		return 0, types.ErrNoIndex
	}
	if err := checkAddable(st.gen, unit); err != nil {
		return 0, err
	}
	if unit.ID == 0 {
		unit.ID = st.gen.NextID()
	}
	if err := st.gen.Add(ctx, unit, vec); err != nil {
		return 0, err
	}

	s.current.Store(&state{gen: st.gen, cacheGen: st.cacheGen + 1})
	s.cache.InvalidateAll()
	return unit.ID, nil
}

// checkAddable rejects a unit before any embedding work. A zero id is
// assigned later, under the swap lock.
func checkAddable(gen *indexer.Generation, unit types.CodeUnit) error {
	if unit.ID == 0 {
		unit.ID = 1
	} else if _, exists := gen.Unit(unit.ID); exists {
		return fmt.Errorf("%w: %d", types.ErrDuplicateUnit, unit.ID)
	}
	if err := unit.Validate(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidQuery, err)
	}
	if gen.Index().Type() == index.TypeIVF {
		return fmt.Errorf("%w: %s index is static, rebuild to add units", types.ErrUnsupportedOperation, index.TypeIVF)
	}
	return nil
}

// Close releases the serving generation
func (s *Searcher) Close() error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	if st := s.current.Swap(nil); st != nil {
		return st.gen.Close()
	}
	return nil
}
