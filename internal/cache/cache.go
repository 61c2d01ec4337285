// Package cache holds recent search rankings keyed by normalized query.
//
// Entries are stamped with the index generation that produced them. A
// lookup under a different generation treats the entry as absent, so
// results from a replaced index are never served even if invalidation
// races with a lookup.
package cache

import (
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/dshills/codesearch/pkg/types"
)

// DefaultCapacity is used when a non-positive capacity is requested
const DefaultCapacity = 1000

// Key identifies a cached query. The limit is part of the key so a query
// cached with a small limit never answers a larger one.
type Key struct {
	Query string // Normalized with Normalize
	Limit int
}

// entry holds ranked ids only; callers hydrate units from their own
// generation so the cache never owns a CodeUnit
type entry struct {
	generation uint64
	ranked     []types.ScoredID
}

// Stats counts cache outcomes since creation
type Stats struct {
	Hits      uint64
	Misses    uint64
	Stale     uint64 // Lookups that found an entry from another generation
	Evictions uint64
	Size      int
	Capacity  int
}

// Cache is a bounded LRU of search results. A single mutex guards the
// LRU because Get updates recency. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[Key, entry]
	capacity int
	stats    Stats
}

// New creates a cache holding at most capacity entries
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{capacity: capacity}
	// Error is only returned for non-positive sizes
	c.lru, _ = simplelru.NewLRU[Key, entry](capacity, func(Key, entry) {
		c.stats.Evictions++
	})
	return c
}

// Normalize lower-cases a query and collapses whitespace runs
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get returns a copy of the ranking cached under key for generation.
// Entries from any other generation are dropped and reported as misses.
func (c *Cache) Get(key Key, generation uint64) ([]types.ScoredID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if e.generation != generation {
		evictions := c.stats.Evictions
		c.lru.Remove(key)
		c.stats.Evictions = evictions
		c.stats.Stale++
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return copyRanked(e.ranked), true
}

// Put stores a copy of ranked under key for generation, evicting the
// least recently used entry when full
func (c *Cache) Put(key Key, generation uint64, ranked []types.ScoredID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, entry{generation: generation, ranked: copyRanked(ranked)})
}

// InvalidateAll empties the cache
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Purge fires the eviction callback; invalidation is not eviction
	evictions := c.stats.Evictions
	c.lru.Purge()
	c.stats.Evictions = evictions
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the maximum number of entries
func (c *Cache) Capacity() int {
	return c.capacity
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.lru.Len()
	s.Capacity = c.capacity
	return s
}

func copyRanked(in []types.ScoredID) []types.ScoredID {
	if in == nil {
		return nil
	}
	out := make([]types.ScoredID, len(in))
	copy(out, in)
	return out
}
