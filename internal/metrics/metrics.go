// Package metrics keeps passive query counters for the search path.
//
// Every update is a handful of atomic operations. Nothing here takes a
// lock, so recording never slows a query; a Snapshot taken while queries
// are in flight may be off by the queries being recorded.
package metrics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/dshills/codesearch/pkg/types"
)

const (
	fastThreshold = 50 * time.Millisecond
	slowThreshold = 200 * time.Millisecond

	// ewmaAlpha weights the newest sample in the rolling average
	ewmaAlpha = 0.1
)

// kinds lists the error kinds counted individually
var kinds = []string{
	types.KindInvalidQuery,
	types.KindEmbedding,
	types.KindBuild,
	types.KindUnsupported,
	types.KindTimeout,
	types.KindNoIndex,
	types.KindInternal,
}

// Collector accumulates query counters. The zero value is not usable; call New.
type Collector struct {
	start time.Time
	now   func() time.Time

	total        atomic.Uint64
	hits         atomic.Uint64
	misses       atomic.Uint64
	latencyNanos atomic.Uint64
	under50      atomic.Uint64
	under200     atomic.Uint64
	rollingBits  atomic.Uint64 // float64 bits of the EWMA in nanoseconds
	errors       []atomic.Uint64
	kindIndex    map[string]int
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	TotalQueries   uint64
	CacheHits      uint64
	CacheMisses    uint64
	HitRate        float64 // Hits / (hits + misses)
	AvgLatency     time.Duration
	RollingLatency time.Duration // Exponentially weighted recent average
	Under50msRate  float64
	Under200msRate float64
	Errors         map[string]uint64
	ErrorTotal     uint64
	QPS            float64 // Queries per second since start
	Uptime         time.Duration
}

// New creates a collector whose throughput clock starts now
func New() *Collector {
	return NewWithClock(time.Now)
}

// NewWithClock creates a collector reading time from now
func NewWithClock(now func() time.Time) *Collector {
	c := &Collector{
		start:     now(),
		now:       now,
		errors:    make([]atomic.Uint64, len(kinds)),
		kindIndex: make(map[string]int, len(kinds)),
	}
	for i, k := range kinds {
		c.kindIndex[k] = i
	}
	return c
}

// RecordHit records a query answered from the cache
func (c *Collector) RecordHit(latency time.Duration) {
	c.hits.Add(1)
	c.observe(latency)
}

// RecordMiss records a query that went to the embedder and index
func (c *Collector) RecordMiss(latency time.Duration) {
	c.misses.Add(1)
	c.observe(latency)
}

// RecordError records a failed query under the kind of err
func (c *Collector) RecordError(err error, latency time.Duration) {
	i, ok := c.kindIndex[types.ErrorKind(err)]
	if !ok {
		i = c.kindIndex[types.KindInternal]
	}
	c.errors[i].Add(1)
	c.observe(latency)
}

func (c *Collector) observe(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	c.total.Add(1)
	c.latencyNanos.Add(uint64(latency))
	if latency < fastThreshold {
		c.under50.Add(1)
	}
	if latency < slowThreshold {
		c.under200.Add(1)
	}

	// One CAS attempt; a lost race drops this sample from the average
	old := c.rollingBits.Load()
	prev := math.Float64frombits(old)
	next := float64(latency)
	if old != 0 {
		next = prev + ewmaAlpha*(float64(latency)-prev)
	}
	c.rollingBits.CompareAndSwap(old, math.Float64bits(next))
}

// Snapshot returns the current counter values and derived rates
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		TotalQueries:   c.total.Load(),
		CacheHits:      c.hits.Load(),
		CacheMisses:    c.misses.Load(),
		RollingLatency: time.Duration(math.Float64frombits(c.rollingBits.Load())),
		Errors:         make(map[string]uint64, len(kinds)),
		Uptime:         c.now().Sub(c.start),
	}

	for i, k := range kinds {
		n := c.errors[i].Load()
		s.Errors[k] = n
		s.ErrorTotal += n
	}

	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.HitRate = float64(s.CacheHits) / float64(lookups)
	}
	if s.TotalQueries > 0 {
		s.AvgLatency = time.Duration(c.latencyNanos.Load() / s.TotalQueries)
		s.Under50msRate = float64(c.under50.Load()) / float64(s.TotalQueries)
		s.Under200msRate = float64(c.under200.Load()) / float64(s.TotalQueries)
	}
	if s.Uptime > 0 {
		s.QPS = float64(s.TotalQueries) / s.Uptime.Seconds()
	}
	return s
}
