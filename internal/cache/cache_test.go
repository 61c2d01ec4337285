package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesearch/pkg/types"
)

func results(ids ...int64) []types.ScoredID {
	out := make([]types.ScoredID, len(ids))
	for i, id := range ids {
		out[i] = types.ScoredID{ID: id, Score: 1 - float64(i)*0.1}
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Parse File", "parse file"},
		{"  parse \t\n  FILE  ", "parse file"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestGetPut(t *testing.T) {
	c := New(4)
	key := Key{Query: "parse file", Limit: 5}

	_, ok := c.Get(key, 1)
	assert.False(t, ok)

	c.Put(key, 1, results(3, 1))
	got, ok := c.Get(key, 1)
	require.True(t, ok)
	assert.Equal(t, results(3, 1), got)

	// Different limit is a different key
	_, ok = c.Get(Key{Query: "parse file", Limit: 10}, 1)
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
}

func TestReturnedResultsAreCopies(t *testing.T) {
	c := New(2)
	key := Key{Query: "q", Limit: 1}
	c.Put(key, 1, results(1))

	got, _ := c.Get(key, 1)
	got[0].Score = -5

	again, _ := c.Get(key, 1)
	assert.Equal(t, 1.0, again[0].Score)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	const n = 3
	c := New(n)

	for i := 0; i < n; i++ {
		c.Put(Key{Query: fmt.Sprintf("q%d", i), Limit: 1}, 1, results(int64(i+1)))
	}
	// Touch q0 so q1 becomes the oldest
	_, ok := c.Get(Key{Query: "q0", Limit: 1}, 1)
	require.True(t, ok)

	c.Put(Key{Query: "q3", Limit: 1}, 1, results(4))

	assert.Equal(t, n, c.Len())
	_, ok = c.Get(Key{Query: "q1", Limit: 1}, 1)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(Key{Query: "q0", Limit: 1}, 1)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestStaleGenerationIsAbsent(t *testing.T) {
	c := New(4)
	key := Key{Query: "q", Limit: 3}
	c.Put(key, 1, results(1, 2))

	_, ok := c.Get(key, 2)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "stale entry should be removed")

	// The old generation no longer sees it either
	_, ok = c.Get(key, 1)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Stale)
}

func TestInvalidateAll(t *testing.T) {
	c := New(4)
	c.Put(Key{Query: "a", Limit: 1}, 1, results(1))
	c.Put(Key{Query: "b", Limit: 1}, 1, results(2))

	c.InvalidateAll()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(0), c.Stats().Evictions)
	_, ok := c.Get(Key{Query: "a", Limit: 1}, 1)
	assert.False(t, ok)
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
	assert.Equal(t, 7, New(7).Capacity())
}

func TestConcurrentAccess(t *testing.T) {
	c := New(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := Key{Query: fmt.Sprintf("q%d", (w*31+i)%80), Limit: 5}
				if _, ok := c.Get(key, 1); !ok {
					c.Put(key, 1, results(int64(i+1)))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
	s := c.Stats()
	assert.Equal(t, uint64(8*200), s.Hits+s.Misses)
}
