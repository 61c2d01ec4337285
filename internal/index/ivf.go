package index

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/dshills/codesearch/pkg/types"
)

const (
	defaultNProbe     = 8
	defaultIterations = 10
	defaultSeed       = 42
)

// IVF is an inverted-file index. Vectors are clustered with k-means at
// build time and a query scans only the NProbe cells whose centroids are
// closest. Results are approximate; raise NProbe toward Partitions for
// better recall. IVF is immutable after Build.
type IVF struct {
	metric    Metric
	dim       int
	nprobe    int
	size      int
	centroids [][]float32
	cNorms    []float32
	cells     []*Flat
}

func buildIVF(ctx context.Context, cfg Config, dim int, entries []Entry) (*IVF, error) {
	n := len(entries)
	parts := cfg.Partitions
	if parts <= 0 {
		parts = int(math.Sqrt(float64(n)))
	}
	if parts > n {
		parts = n
	}
	if parts < 1 {
		parts = 1
	}

	nprobe := cfg.NProbe
	if nprobe <= 0 {
		nprobe = defaultNProbe
	}
	if nprobe > parts {
		nprobe = parts
	}

	iters := cfg.Iterations
	if iters <= 0 {
		iters = defaultIterations
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = defaultSeed
	}

	idx := &IVF{
		metric: cfg.Metric,
		dim:    dim,
		nprobe: nprobe,
		size:   n,
	}

	if n == 0 {
		idx.centroids = [][]float32{}
		return idx, nil
	}

	centroids, assign, err := kmeans(ctx, cfg.Metric, entries, parts, iters, seed)
	if err != nil {
		return nil, err
	}

	idx.centroids = centroids
	idx.cNorms = make([]float32, len(centroids))
	idx.cells = make([]*Flat, len(centroids))
	for c := range centroids {
		idx.cNorms[c] = norm(centroids[c])
		idx.cells[c] = NewFlat(cfg.Metric, dim)
	}
	for i, e := range entries {
		idx.cells[assign[i]].appendLocked(e)
	}
	return idx, nil
}

// Search probes the nearest cells and merges their hits
func (v *IVF) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != v.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", types.ErrDimensionMismatch, len(query), v.dim)
	}
	if k <= 0 || v.size == 0 {
		return []Neighbor{}, nil
	}

	qNorm := norm(query)
	order := make([]Neighbor, len(v.centroids))
	for c, centroid := range v.centroids {
		order[c] = Neighbor{ID: int64(c), Distance: distance(v.metric, centroid, query, v.cNorms[c], qNorm)}
	}
	sort.Slice(order, func(i, j int) bool { return less(order[i], order[j]) })

	k = min(k, v.size)
	top := newTopK(k)
	for _, cell := range order[:v.nprobe] {
		hits, err := v.cells[cell.ID].Search(ctx, query, k)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			top.offer(h)
		}
	}
	return top.sorted(), nil
}

// Add is not supported; rebuild instead
func (v *IVF) Add(context.Context, Entry) error {
	return fmt.Errorf("%w: ivf index is immutable, rebuild to add units", types.ErrUnsupportedOperation)
}

func (v *IVF) Len() int       { return v.size }
func (v *IVF) Dimension() int { return v.dim }
func (v *IVF) Metric() Metric { return v.metric }
func (v *IVF) Type() string   { return TypeIVF }

// Partitions returns the number of k-means cells
func (v *IVF) Partitions() int { return len(v.centroids) }

// NProbe returns how many cells a query scans
func (v *IVF) NProbe() int { return v.nprobe }

// kmeans clusters entries into k cells using k-means++ seeding and Lloyd
// iterations. The same seed and input always give the same clustering.
func kmeans(ctx context.Context, metric Metric, entries []Entry, k, iters int, seed uint64) ([][]float32, []int, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	dim := len(entries[0].Vector)

	norms := make([]float32, len(entries))
	for i, e := range entries {
		norms[i] = norm(e.Vector)
	}

	// k-means++ seeding
	centroids := make([][]float32, 0, k)
	first := rng.IntN(len(entries))
	centroids = append(centroids, append([]float32(nil), entries[first].Vector...))

	nearest := make([]float64, len(entries))
	for i := range nearest {
		nearest[i] = math.Inf(1)
	}
	for len(centroids) < k {
		last := centroids[len(centroids)-1]
		lastNorm := norm(last)
		var total float64
		for i, e := range entries {
			d := distance(metric, e.Vector, last, norms[i], lastNorm)
			if d < nearest[i] {
				nearest[i] = d
			}
			total += nearest[i] * nearest[i]
		}

		pick := 0
		if total > 0 {
			target := rng.Float64() * total
			for i := range entries {
				target -= nearest[i] * nearest[i]
				if target <= 0 {
					pick = i
					break
				}
			}
		} else {
			// Every point coincides with a centroid
			pick = rng.IntN(len(entries))
		}
		centroids = append(centroids, append([]float32(nil), entries[pick].Vector...))
	}

	assign := make([]int, len(entries))
	cNorms := make([]float32, k)
	reassign := func() bool {
		for c := range centroids {
			cNorms[c] = norm(centroids[c])
		}
		changed := false
		for i, e := range entries {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := distance(metric, e.Vector, centroid, norms[i], cNorms[c])
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				changed = true
			}
			assign[i] = best
		}
		return changed
	}
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	counts := make([]int, k)

	reassign()
	for iter := 0; iter < iters; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		for c := range sums {
			clear(sums[c])
			counts[c] = 0
		}
		for i, e := range entries {
			c := assign[i]
			counts[c]++
			for d, x := range e.Vector {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			// Empty cells keep their previous centroid
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}

		if !reassign() {
			break
		}
	}

	return centroids, assign, nil
}
