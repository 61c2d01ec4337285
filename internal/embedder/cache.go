package embedder

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of vectors kept when no size is configured
const DefaultCacheSize = 10000

type cacheKey struct {
	model string
	sum   [sha256.Size]byte
}

// VectorCache memoizes vectors by model and exact text. The searcher embeds
// the normalized query, so queries differing only in case or spacing share
// one entry. A nil *VectorCache never hits and stores nothing.
type VectorCache struct {
	lru    *lru.Cache[cacheKey, []float32]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats counts lookups since the cache was created
type CacheStats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// NewVectorCache creates a cache holding at most size vectors
func NewVectorCache(size int) *VectorCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, []float32](size)
	if err != nil {
		panic(err) // size is positive
	}
	return &VectorCache{lru: c}
}

func keyFor(model, text string) cacheKey {
	return cacheKey{model: model, sum: sha256.Sum256([]byte(text))}
}

// Lookup returns a copy of the vector cached for text under model
func (c *VectorCache) Lookup(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(keyFor(model, text))
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return slices.Clone(v), true
}

// Store caches a copy of vec for text under model
func (c *VectorCache) Store(model, text string, vec []float32) {
	if c == nil {
		return
	}
	c.lru.Add(keyFor(model, text), slices.Clone(vec))
}

func (c *VectorCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	return CacheStats{Size: c.lru.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// cached serves a single request from the cache or, on a miss, from batch,
// and stores the result
func cached(c *VectorCache, provider, model, text string, batch func() ([]*Embedding, error)) (*Embedding, error) {
	if v, ok := c.Lookup(model, text); ok {
		return &Embedding{Vector: v, Dimension: len(v), Provider: provider, Model: model}, nil
	}
	embs, err := batch()
	if err != nil {
		return nil, err
	}
	if len(embs) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	c.Store(model, text, embs[0].Vector)
	return embs[0], nil
}
