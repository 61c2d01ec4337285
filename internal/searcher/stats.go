package searcher

import (
	"time"

	"github.com/dshills/codesearch/internal/cache"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/internal/metrics"
)

// Stats is the read-only view exposed to outer layers
type Stats struct {
	Metrics metrics.Snapshot
	Cache   cache.Stats
	Index   *IndexInfo // nil until a generation is installed
}

// IndexInfo describes the serving generation
type IndexInfo struct {
	Generation      uint64
	Type            string
	Metric          index.Metric
	Dimension       int
	Units           int
	Files           int
	FilesSkipped    int
	FilesUnreadable int
	Lines           int
	Repos           []string
	Provider        string
	Model           string
	CreatedAt       time.Time
	BuildDuration   time.Duration

	// IVF only
	Partitions int
	NProbe     int
}

type partitioned interface {
	Partitions() int
	NProbe() int
}

// Stats returns a snapshot of metrics, cache and index state
func (s *Searcher) Stats() Stats {
	out := Stats{
		Metrics: s.metrics.Snapshot(),
		Cache:   s.cache.Stats(),
	}

	st := s.current.Load()
	if st == nil {
		return out
	}

	gen := st.gen
	vi := gen.Index()
	bs := gen.Stats()
	info := &IndexInfo{
		Generation:      gen.ID,
		Type:            vi.Type(),
		Metric:          vi.Metric(),
		Dimension:       vi.Dimension(),
		Units:           gen.Len(),
		Files:           bs.FilesIndexed,
		FilesSkipped:    bs.FilesSkipped,
		FilesUnreadable: bs.FilesUnreadable,
		Lines:           bs.Lines,
		Repos:           bs.Repos,
		Provider:        gen.Provider,
		Model:           gen.Model,
		CreatedAt:       gen.CreatedAt,
		BuildDuration:   bs.Duration,
	}
	if p, ok := vi.(partitioned); ok {
		info.Partitions = p.Partitions()
		info.NProbe = p.NProbe()
	}
	out.Index = info
	return out
}
