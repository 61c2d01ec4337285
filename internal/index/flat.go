package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/codesearch/pkg/types"
)

// Flat is an exact index that scans every vector per query.
// It is the only in-memory index that supports Add.
type Flat struct {
	mu      sync.RWMutex
	metric  Metric
	dim     int
	ids     []int64
	vectors []float32 // Row-major, len(ids) * dim
	norms   []float32
	present map[int64]struct{}
}

// NewFlat creates an empty exact index
func NewFlat(metric Metric, dim int) *Flat {
	if metric == "" {
		metric = Cosine
	}
	return &Flat{
		metric:  metric,
		dim:     dim,
		present: make(map[int64]struct{}),
	}
}

func buildFlat(metric Metric, dim int, entries []Entry) *Flat {
	f := NewFlat(metric, dim)
	f.ids = make([]int64, 0, len(entries))
	f.vectors = make([]float32, 0, len(entries)*dim)
	f.norms = make([]float32, 0, len(entries))
	for _, e := range entries {
		f.appendLocked(e)
	}
	return f
}

func (f *Flat) appendLocked(e Entry) {
	f.ids = append(f.ids, e.ID)
	f.vectors = append(f.vectors, e.Vector...)
	f.norms = append(f.norms, norm(e.Vector))
	f.present[e.ID] = struct{}{}
}

// Search scans all vectors and returns the k nearest
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", types.ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if k > len(f.ids) {
		k = len(f.ids)
	}
	top := newTopK(k)
	qNorm := norm(query)
	for i, id := range f.ids {
		// Check for cancellation every few thousand rows
		if i&4095 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		v := f.vectors[i*f.dim : (i+1)*f.dim]
		top.offer(Neighbor{ID: id, Distance: distance(f.metric, v, query, f.norms[i], qNorm)})
	}
	return top.sorted(), nil
}

// Add inserts one entry. Ids must be new.
func (f *Flat) Add(_ context.Context, e Entry) error {
	if len(e.Vector) != f.dim {
		return fmt.Errorf("%w: entry %d has %d dimensions, index has %d", types.ErrDimensionMismatch, e.ID, len(e.Vector), f.dim)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.present[e.ID]; dup {
		return fmt.Errorf("%w: %d", types.ErrDuplicateUnit, e.ID)
	}
	f.appendLocked(e)
	return nil
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

func (f *Flat) Dimension() int { return f.dim }
func (f *Flat) Metric() Metric { return f.metric }
func (f *Flat) Type() string   { return TypeFlat }
