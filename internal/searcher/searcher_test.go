package searcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesearch/internal/cache"
	"github.com/dshills/codesearch/internal/embedder"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/internal/indexer"
	"github.com/dshills/codesearch/internal/loader"
	"github.com/dshills/codesearch/internal/metrics"
	"github.com/dshills/codesearch/pkg/types"
)

// mockEmbedder implements the Embedder interface for testing
type mockEmbedder struct {
	vectors      map[string][]float32
	generateFunc func(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error)

	mu    sync.Mutex
	calls int
}

func newMockEmbedder(vectors map[string][]float32) *mockEmbedder {
	return &mockEmbedder{vectors: vectors}
}

func (m *mockEmbedder) vector(text string) []float32 {
	if v, ok := m.vectors[text]; ok {
		return v
	}
	return []float32{float32(len(text)%7) + 1, 1}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	v := m.vector(req.Text)
	return &embedder.Embedding{Vector: v, Dimension: len(v), Provider: "mock", Model: "mock-model"}, nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		v := m.vector(text)
		embeddings[i] = &embedder.Embedding{Vector: v, Dimension: len(v), Provider: "mock", Model: "mock-model"}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: "mock-model"}, nil
}

func (m *mockEmbedder) Dimension() int   { return 2 }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "mock-model" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func unit(id int64, name string) types.CodeUnit {
	return types.CodeUnit{
		ID:         id,
		Repo:       "repo",
		SourcePath: "repo/" + name + ".go",
		StartLine:  1,
		EndLine:    3,
		Text:       "func " + name + "() {}",
		Language:   types.LangGo,
		Kind:       types.UnitFunction,
		Name:       name,
	}
}

// restore builds a generation from fixed vectors without touching the corpus
func restore(t *testing.T, idx *indexer.Indexer, genID uint64, vectors ...[]float32) *indexer.Generation {
	t.Helper()
	units := make([]types.CodeUnit, len(vectors))
	entries := make([]index.Entry, len(vectors))
	for i, v := range vectors {
		id := int64(i + 1)
		units[i] = unit(id, fmt.Sprintf("fn%d", id))
		entries[i] = index.Entry{ID: id, Vector: v}
	}
	gen, err := idx.Restore(context.Background(), genID, units, entries, indexer.Statistics{})
	require.NoError(t, err)
	return gen
}

type fixture struct {
	emb      *mockEmbedder
	indexer  *indexer.Indexer
	searcher *Searcher
	metrics  *metrics.Collector
	cache    *cache.Cache
}

func newFixture(t *testing.T, opts Options, cfg indexer.Config) *fixture {
	t.Helper()
	emb := newMockEmbedder(map[string][]float32{
		"east":  {1, 0},
		"north": {0, 1},
	})
	idx := indexer.New(loader.New(loader.Config{}, nil), emb, cfg, nil)
	m := metrics.New()
	c := cache.New(16)
	s := New(idx, c, m, opts, nil)
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{emb: emb, indexer: idx, searcher: s, metrics: m, cache: c}
}

// newThreeUnitFixture serves units with embeddings [1,0], [0,1], [0.9,0.1]
func newThreeUnitFixture(t *testing.T) *fixture {
	f := newFixture(t, Options{}, indexer.Config{})
	f.searcher.Install(restore(t, f.indexer, 1, []float32{1, 0}, []float32{0, 1}, []float32{0.9, 0.1}))
	return f
}

func resultIDs(results []types.SearchResult) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.Unit.ID
	}
	return ids
}

func TestSearch_NearestFirst(t *testing.T) {
	f := newThreeUnitFixture(t)

	resp, err := f.searcher.Search(context.Background(), "east", 2)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3}, resultIDs(resp.Results))
	assert.Equal(t, uint64(1), resp.Generation)
	assert.False(t, resp.Cached)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-6)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)
	for _, r := range resp.Results {
		assert.NoError(t, r.Validate())
	}
}

func TestSearch_OrderedByScore(t *testing.T) {
	f := newThreeUnitFixture(t)

	resp, err := f.searcher.Search(context.Background(), "north", 3)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, int64(2), resp.Results[0].Unit.ID)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
		assert.Equal(t, i+1, resp.Results[i].Rank)
	}
}

func TestSearch_LimitLargerThanCorpus(t *testing.T) {
	f := newThreeUnitFixture(t)

	resp, err := f.searcher.Search(context.Background(), "east", 10)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestSearch_TieBreakByID(t *testing.T) {
	f := newFixture(t, Options{}, indexer.Config{})
	f.searcher.Install(restore(t, f.indexer, 1, []float32{0, 1}, []float32{0.5, 0.5}, []float32{0.5, 0.5}))

	for i := 0; i < 3; i++ {
		f.cache.InvalidateAll()
		resp, err := f.searcher.Search(context.Background(), "east", 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, resultIDs(resp.Results))
	}
}

func TestSearch_Idempotent(t *testing.T) {
	f := newThreeUnitFixture(t)
	ctx := context.Background()

	first, err := f.searcher.Search(ctx, "east", 2)
	require.NoError(t, err)
	second, err := f.searcher.Search(ctx, "east", 2)
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, f.emb.callCount())

	// Normalization folds case and whitespace
	third, err := f.searcher.Search(ctx, "  EAST ", 2)
	require.NoError(t, err)
	assert.True(t, third.Cached)
	assert.Equal(t, 1, f.emb.callCount())

	// A different limit is a different entry
	fourth, err := f.searcher.Search(ctx, "east", 1)
	require.NoError(t, err)
	assert.False(t, fourth.Cached)
	assert.Equal(t, []int64{1}, resultIDs(fourth.Results))
}

func TestSearch_EmbedsNormalizedQuery(t *testing.T) {
	f := newThreeUnitFixture(t)

	var seen []string
	f.emb.generateFunc = func(_ context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
		seen = append(seen, req.Text)
		v := f.emb.vector(req.Text)
		return &embedder.Embedding{Vector: v, Dimension: len(v)}, nil
	}

	resp, err := f.searcher.Search(context.Background(), "  EAST\t", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"east"}, seen)
	assert.Equal(t, []int64{1}, resultIDs(resp.Results))
}

func TestSearch_InvalidQuery(t *testing.T) {
	f := newThreeUnitFixture(t)

	tests := []struct {
		name  string
		query string
		limit int
	}{
		{"empty", "", 10},
		{"whitespace", "   \t", 10},
		{"zero limit", "east", 0},
		{"negative limit", "east", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.searcher.Search(context.Background(), tt.query, tt.limit)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidQuery))
		})
	}

	assert.Equal(t, 0, f.emb.callCount())
	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(4), snap.Errors[types.KindInvalidQuery])
}

func TestSearch_NoIndex(t *testing.T) {
	f := newFixture(t, Options{}, indexer.Config{})

	_, err := f.searcher.Search(context.Background(), "east", 5)
	assert.ErrorIs(t, err, types.ErrNoIndex)
	assert.Equal(t, 0, f.emb.callCount())
}

func TestSearch_EmbeddingError(t *testing.T) {
	f := newThreeUnitFixture(t)
	f.emb.generateFunc = func(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
		return nil, embedder.ErrProviderFailed
	}

	_, err := f.searcher.Search(context.Background(), "east", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrEmbedding))
	assert.True(t, errors.Is(err, embedder.ErrProviderFailed))
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Errors[types.KindEmbedding])

	// Failures are not cached
	f.emb.generateFunc = nil
	resp, err := f.searcher.Search(context.Background(), "east", 2)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestSearch_MalformedEmbedding(t *testing.T) {
	f := newThreeUnitFixture(t)
	f.emb.generateFunc = func(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
		return &embedder.Embedding{Vector: []float32{1, 0, 0}, Dimension: 3}, nil
	}

	_, err := f.searcher.Search(context.Background(), "east", 2)
	assert.True(t, errors.Is(err, types.ErrEmbedding))
}

func TestSearch_Timeout(t *testing.T) {
	f := newFixture(t, Options{Timeout: 20 * time.Millisecond}, indexer.Config{})
	f.searcher.Install(restore(t, f.indexer, 1, []float32{1, 0}))
	f.emb.generateFunc = func(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.searcher.Search(context.Background(), "east", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTimeout))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Errors[types.KindTimeout])

	// Shared state is intact once the embedder recovers
	f.emb.generateFunc = nil
	resp, err := f.searcher.Search(context.Background(), "east", 2)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestSearch_LimitAboveCorpusReturnsAll(t *testing.T) {
	f := newFixture(t, Options{}, indexer.Config{})
	n := DefaultMaxLimit + 50
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = []float32{1, float32(i) / float32(n)}
	}
	f.searcher.Install(restore(t, f.indexer, 1, vectors...))

	resp, err := f.searcher.Search(context.Background(), "east", n+50)
	require.NoError(t, err)
	require.Len(t, resp.Results, n)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.LessOrEqual(t, r.Score, resp.Results[i-1].Score)
		}
	}

	resp, err = f.searcher.Search(context.Background(), "east", math.MaxInt)
	require.NoError(t, err)
	assert.Len(t, resp.Results, n)
}

func TestSearch_GenerationIsolation(t *testing.T) {
	f := newThreeUnitFixture(t)
	ctx := context.Background()

	_, err := f.searcher.Search(ctx, "east", 2)
	require.NoError(t, err)
	cached, err := f.searcher.Search(ctx, "east", 2)
	require.NoError(t, err)
	require.True(t, cached.Cached)

	// Generation 2 points "east" at a different unit
	f.searcher.Install(restore(t, f.indexer, 2, []float32{0, 1}, []float32{1, 0}))

	resp, err := f.searcher.Search(ctx, "east", 2)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, uint64(2), resp.Generation)
	assert.Equal(t, []int64{2, 1}, resultIDs(resp.Results))
	assert.Equal(t, 2, f.emb.callCount())
}

func TestInstall_ClosesPrevious(t *testing.T) {
	f := newThreeUnitFixture(t)
	old := f.searcher.Generation()

	f.searcher.Install(restore(t, f.indexer, 7, []float32{1, 0}))

	_, err := old.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, indexer.ErrRetired)
	assert.Equal(t, uint64(8), f.searcher.NextGenerationID())
}

func TestSkipGenerations(t *testing.T) {
	f := newFixture(t, Options{}, indexer.Config{})

	f.searcher.SkipGenerations(41)
	assert.Equal(t, uint64(42), f.searcher.NextGenerationID())

	// Never moves backwards
	f.searcher.SkipGenerations(3)
	assert.Equal(t, uint64(43), f.searcher.NextGenerationID())
}

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "repo")
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestRebuild(t *testing.T) {
	f := newFixture(t, Options{}, indexer.Config{})
	ctx := context.Background()
	root := writeCorpus(t, map[string]string{
		"a.py": "def a():\n    return 1\n",
		"b.py": "def b():\n    return 22\n",
	})

	gen1, err := f.searcher.Rebuild(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen1)

	resp, err := f.searcher.Search(ctx, "anything", 5)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, gen1, resp.Generation)

	require.NoError(t, os.WriteFile(filepath.Join(root, "c.py"), []byte("def c():\n    return 333\n"), 0o644))
	gen2, err := f.searcher.Rebuild(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen2)

	resp, err = f.searcher.Search(ctx, "anything", 5)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, gen2, resp.Generation)
	assert.Len(t, resp.Results, 3)
}

func TestRebuild_FailureKeepsGeneration(t *testing.T) {
	f := newThreeUnitFixture(t)

	_, err := f.searcher.Rebuild(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBuild))

	assert.Equal(t, uint64(1), f.searcher.Generation().ID)
	resp, err := f.searcher.Search(context.Background(), "east", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, resultIDs(resp.Results))
}

func TestRebuild_InProgress(t *testing.T) {
	f := newThreeUnitFixture(t)

	require.True(t, f.searcher.rebuild.TryLock())
	_, err := f.searcher.Rebuild(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, types.ErrRebuildInProgress)
	f.searcher.rebuild.Unlock()
}

func TestAdd(t *testing.T) {
	f := newThreeUnitFixture(t)
	ctx := context.Background()

	_, err := f.searcher.Search(ctx, "north", 1)
	require.NoError(t, err)

	u := unit(0, "northward")
	f.emb.vectors[indexer.EmbedText(u)] = []float32{0.01, 1}
	id, err := f.searcher.Add(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)

	resp, err := f.searcher.Search(ctx, "north", 2)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, []int64{2, 4}, resultIDs(resp.Results))
	assert.Equal(t, 4, f.searcher.Stats().Index.Units)

	// Earlier cache entries were computed without the new unit
	resp, err = f.searcher.Search(ctx, "north", 1)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestAdd_EmbedsOutsideSwapLock(t *testing.T) {
	f := newThreeUnitFixture(t)
	next := restore(t, f.indexer, 2, []float32{1, 0}, []float32{0, 1})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	f.emb.generateFunc = func(_ context.Context, _ embedder.EmbeddingRequest) (*embedder.Embedding, error) {
		close(started)
		<-release
		return &embedder.Embedding{Vector: []float32{1, 1}, Dimension: 2}, nil
	}

	type added struct {
		id  int64
		err error
	}
	done := make(chan added, 1)
	go func() {
		id, err := f.searcher.Add(context.Background(), unit(0, "late"))
		done <- added{id, err}
	}()
	<-started

	installed := make(chan struct{})
	go func() {
		f.searcher.Install(next)
		close(installed)
	}()
	select {
	case <-installed:
	case <-time.After(5 * time.Second):
		t.Fatal("install waited on an in-flight embedding")
	}
	unblock()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, int64(3), res.id)

	gen := f.searcher.Generation()
	assert.Equal(t, uint64(2), gen.ID)
	assert.Equal(t, 3, gen.Len())
}

func TestAdd_DuplicateID(t *testing.T) {
	f := newThreeUnitFixture(t)

	_, err := f.searcher.Add(context.Background(), unit(2, "again"))
	assert.ErrorIs(t, err, types.ErrDuplicateUnit)
	assert.Equal(t, types.KindInvalidQuery, types.ErrorKind(err))
	assert.Equal(t, 3, f.searcher.Generation().Len())
	assert.Equal(t, 0, f.emb.callCount())
}

func TestAdd_StaticIndex(t *testing.T) {
	f := newFixture(t, Options{}, indexer.Config{Index: index.Config{Type: index.TypeIVF, Partitions: 1}})
	f.searcher.Install(restore(t, f.indexer, 1, []float32{1, 0}, []float32{0, 1}))

	_, err := f.searcher.Add(context.Background(), unit(0, "extra"))
	assert.True(t, errors.Is(err, types.ErrUnsupportedOperation))
	assert.Equal(t, 0, f.emb.callCount())
	assert.Equal(t, 2, f.searcher.Generation().Len())
}

func TestAdd_NoIndex(t *testing.T) {
	f := newFixture(t, Options{}, indexer.Config{})
	_, err := f.searcher.Add(context.Background(), unit(0, "x"))
	assert.ErrorIs(t, err, types.ErrNoIndex)
}

func TestStats(t *testing.T) {
	f := newFixture(t, Options{}, indexer.Config{})
	assert.Nil(t, f.searcher.Stats().Index)

	f.searcher.Install(restore(t, f.indexer, 3, []float32{1, 0}, []float32{0, 1}))
	ctx := context.Background()
	_, _ = f.searcher.Search(ctx, "east", 1)
	_, _ = f.searcher.Search(ctx, "east", 1)
	_, _ = f.searcher.Search(ctx, "", 1)

	st := f.searcher.Stats()
	assert.Equal(t, uint64(3), st.Metrics.TotalQueries)
	assert.Equal(t, uint64(1), st.Metrics.CacheHits)
	assert.Equal(t, uint64(1), st.Metrics.CacheMisses)
	assert.Equal(t, uint64(1), st.Metrics.ErrorTotal)
	assert.Equal(t, uint64(1), st.Cache.Hits)
	assert.Equal(t, 1, st.Cache.Size)

	require.NotNil(t, st.Index)
	assert.Equal(t, uint64(3), st.Index.Generation)
	assert.Equal(t, index.TypeFlat, st.Index.Type)
	assert.Equal(t, index.Cosine, st.Index.Metric)
	assert.Equal(t, 2, st.Index.Dimension)
	assert.Equal(t, 2, st.Index.Units)
	assert.Equal(t, "mock", st.Index.Provider)
}

func TestSearch_ConcurrentWithRebuild(t *testing.T) {
	f := newThreeUnitFixture(t)
	ctx := context.Background()
	root := writeCorpus(t, map[string]string{
		"a.py": "def a():\n    return 1\n",
		"b.py": "def b():\n    return 22\n",
	})

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				resp, err := f.searcher.Search(ctx, fmt.Sprintf("query %d", (w+i)%5), 3)
				if err != nil {
					errs <- err
					continue
				}
				if len(resp.Results) == 0 {
					errs <- fmt.Errorf("generation %d returned no results", resp.Generation)
				}
			}
		}(w)
	}
	for i := 0; i < 3; i++ {
		_, err := f.searcher.Rebuild(ctx, root)
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, uint64(4), f.searcher.Generation().ID)
}
