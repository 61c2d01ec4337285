package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/codesearch/pkg/types"
)

// Metric selects the distance function an index ranks by
type Metric string

const (
	// Cosine distance is 1 - cos(a, b), in [0, 2]
	Cosine Metric = "cosine"
	// L2 is Euclidean distance
	L2 Metric = "l2"
)

// Index types
const (
	TypeFlat = "flat"
	TypeIVF  = "ivf"
)

// ParseMetric maps a config string onto a Metric
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(s)) {
	case Cosine, "":
		return Cosine, nil
	case L2, "euclidean":
		return L2, nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

// Entry pairs a unit id with its embedding
type Entry struct {
	ID     int64
	Vector []float32
}

// Neighbor is one search hit. Smaller distance is closer.
type Neighbor struct {
	ID       int64
	Distance float64
}

// Index answers k-nearest-neighbor queries over unit embeddings.
//
// Search returns at most k neighbors ordered by ascending distance, ties
// broken by ascending id. k <= 0 yields no results; k larger than Len
// yields every entry. A query whose length differs from Dimension fails
// with types.ErrDimensionMismatch. Implementations are safe for
// concurrent searches.
type Index interface {
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	Add(ctx context.Context, entry Entry) error
	Len() int
	Dimension() int
	Metric() Metric
	Type() string
}

// Config controls how Build constructs an index
type Config struct {
	Type       string // flat or ivf
	Metric     Metric
	Dimension  int // Required when entries is empty
	Partitions int // IVF: number of k-means cells (default sqrt(n))
	NProbe     int // IVF: cells scanned per query (default 8)
	Iterations int // IVF: k-means iterations (default 10)
	Seed       uint64
}

// Build creates an index over entries. All vectors must share one
// dimension and ids must be unique.
func Build(ctx context.Context, cfg Config, entries []Entry) (Index, error) {
	if cfg.Metric == "" {
		cfg.Metric = Cosine
	}
	dim, err := checkEntries(cfg.Dimension, entries)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Type) {
	case TypeFlat, "":
		return buildFlat(cfg.Metric, dim, entries), nil
	case TypeIVF:
		return buildIVF(ctx, cfg, dim, entries)
	default:
		return nil, fmt.Errorf("%w: unknown index type %q", types.ErrBuild, cfg.Type)
	}
}

// Similarity maps a distance onto a score where larger is better. Cosine
// distances land in [0, 1]; L2 distances in (0, 1].
func Similarity(m Metric, distance float64) float64 {
	if m == L2 {
		return 1 / (1 + distance)
	}
	return 1 - distance/2
}

func checkEntries(dim int, entries []Entry) (int, error) {
	if dim <= 0 && len(entries) > 0 {
		dim = len(entries[0].Vector)
	}
	if dim <= 0 {
		return 0, fmt.Errorf("%w: index dimension unknown", types.ErrBuild)
	}

	seen := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		if len(e.Vector) != dim {
			return 0, fmt.Errorf("%w: %w: entry %d has %d dimensions, want %d",
				types.ErrBuild, types.ErrDimensionMismatch, e.ID, len(e.Vector), dim)
		}
		if _, dup := seen[e.ID]; dup {
			return 0, fmt.Errorf("%w: duplicate id %d", types.ErrBuild, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return dim, nil
}
