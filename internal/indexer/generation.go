package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/pkg/types"
)

// ErrRetired is returned by a generation that was closed after being replaced.
// Callers reload the current generation and retry.
var ErrRetired = errors.New("generation retired")

// Generation is one immutable build of the corpus: its units, their vectors
// and the index over them. Incremental adds are the only mutation.
type Generation struct {
	ID        uint64
	Provider  string
	Model     string
	CreatedAt time.Time

	idx index.Index

	mu      sync.RWMutex
	units   map[int64]types.CodeUnit
	entries []index.Entry
	nextID  int64
	stats   Statistics

	// life guards closed; searches hold it shared so Close waits for them
	life   sync.RWMutex
	closed bool
}

func newGeneration(id uint64, idx index.Index, units []types.CodeUnit, entries []index.Entry) *Generation {
	g := &Generation{
		ID:        id,
		CreatedAt: time.Now(),
		idx:       idx,
		units:     make(map[int64]types.CodeUnit, len(units)),
		entries:   entries,
		nextID:    1,
	}
	for _, u := range units {
		g.units[u.ID] = u
		if u.ID >= g.nextID {
			g.nextID = u.ID + 1
		}
	}
	return g
}

// Index returns the nearest-neighbor index of this generation
func (g *Generation) Index() index.Index { return g.idx }

// Stats returns corpus statistics for the generation
func (g *Generation) Stats() Statistics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st := g.stats
	st.Repos = slices.Clone(g.stats.Repos)
	st.ErrorMessages = slices.Clone(g.stats.ErrorMessages)
	return st
}

// Len returns the number of units in the generation
func (g *Generation) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.units)
}

// Unit looks up a unit by id
func (g *Generation) Unit(id int64) (types.CodeUnit, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	u, ok := g.units[id]
	return u, ok
}

// Units returns all units ordered by id
func (g *Generation) Units() []types.CodeUnit {
	g.mu.RLock()
	out := make([]types.CodeUnit, 0, len(g.units))
	for _, u := range g.units {
		out = append(out, u)
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.CodeUnit) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Entries returns the vectors the index was built from, plus later adds.
// Snapshots persist these.
func (g *Generation) Entries() []index.Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.entries)
}

// NextID returns the id the next added unit should take
func (g *Generation) NextID() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nextID
}

// Search runs a k-nearest-neighbor query against the generation's index
func (g *Generation) Search(ctx context.Context, query []float32, k int) ([]index.Neighbor, error) {
	g.life.RLock()
	defer g.life.RUnlock()
	if g.closed {
		return nil, ErrRetired
	}
	return g.idx.Search(ctx, query, k)
}

// Add inserts a unit and its vector. Static indexes return
// types.ErrUnsupportedOperation and the generation is left unchanged.
func (g *Generation) Add(ctx context.Context, unit types.CodeUnit, vector []float32) error {
	g.life.RLock()
	defer g.life.RUnlock()
	if g.closed {
		return ErrRetired
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.units[unit.ID]; exists {
		return fmt.Errorf("%w: %d", types.ErrDuplicateUnit, unit.ID)
	}
	entry := index.Entry{ID: unit.ID, Vector: vector}
	if err := g.idx.Add(ctx, entry); err != nil {
		return err
	}

	g.units[unit.ID] = unit
	g.entries = append(g.entries, entry)
	if unit.ID >= g.nextID {
		g.nextID = unit.ID + 1
	}
	g.stats.Units++
	g.stats.Lines += unit.LineCount()
	return nil
}

// Close waits for in-flight searches, then releases index resources.
// Later searches return ErrRetired.
func (g *Generation) Close() error {
	g.life.Lock()
	defer g.life.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if c, ok := g.idx.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
