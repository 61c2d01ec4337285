package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codesearch/internal/metrics"
	"github.com/dshills/codesearch/internal/searcher"
)

// defaultQueries mixes common code search intents
var defaultQueries = []string{
	"authentication login",
	"database connection",
	"error handling exception",
	"http request response",
	"file upload download",
	"user validation",
	"api endpoint",
	"cache implementation",
	"data processing",
	"security check",
	"unit test",
	"configuration settings",
	"logging debug",
	"async function",
	"json parsing",
	"form validation",
	"session management",
	"password encryption",
	"token authentication",
	"query optimization",
	"memory management",
	"thread pool",
	"connection pooling",
	"rate limiting",
	"middleware handler",
}

// maxReportedFailures caps the failures printed after a run
const maxReportedFailures = 5

type querier interface {
	Search(ctx context.Context, query string, limit int) (*searcher.Response, error)
}

// loadReport summarizes one load test run
type loadReport struct {
	Requests  int
	Succeeded int
	Failed    int
	Cached    int
	Elapsed   time.Duration
	Latencies []time.Duration // successful requests, ascending
	Failures  []string
}

func (r *loadReport) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Requests) / r.Elapsed.Seconds()
}

// Percentile returns the latency below which p of successful requests fall
func (r *loadReport) Percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	i := int(float64(len(r.Latencies)) * p)
	return r.Latencies[min(i, len(r.Latencies)-1)]
}

func (r *loadReport) Mean() time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range r.Latencies {
		sum += d
	}
	return sum / time.Duration(len(r.Latencies))
}

// UnderRate returns the fraction of successful requests faster than d
func (r *loadReport) UnderRate(d time.Duration) float64 {
	if len(r.Latencies) == 0 {
		return 0
	}
	n, _ := slices.BinarySearch(r.Latencies, d)
	return float64(n) / float64(len(r.Latencies))
}

// runLoad issues total queries round-robin from queries with at most
// concurrency in flight. Individual query errors are counted, not returned.
func runLoad(ctx context.Context, q querier, queries []string, total, concurrency, limit int) (*loadReport, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries to run")
	}
	if total <= 0 || concurrency <= 0 {
		return nil, fmt.Errorf("requests and concurrency must be positive")
	}

	var (
		mu     sync.Mutex
		report = &loadReport{Requests: total, Latencies: make([]time.Duration, 0, total)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	start := time.Now()
	for i := range total {
		if gctx.Err() != nil {
			break
		}
		query := queries[i%len(queries)]
		g.Go(func() error {
			t := time.Now()
			resp, err := q.Search(gctx, query, limit)
			took := time.Since(t)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				if len(report.Failures) < maxReportedFailures {
					report.Failures = append(report.Failures, fmt.Sprintf("request %d (%q): %v", i, query, err))
				}
				return nil
			}
			report.Succeeded++
			if resp.Cached {
				report.Cached++
			}
			report.Latencies = append(report.Latencies, took)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	slices.Sort(report.Latencies)
	return report, nil
}

func loadtestCmd(configPath *string) *cobra.Command {
	var (
		requests    int
		concurrency int
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "loadtest [query...]",
		Short: "Run concurrent queries against the saved index and report latency percentiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.restore(ctx); err != nil {
				return err
			}
			if a.searcher.Generation() == nil {
				return fmt.Errorf("no index loaded, run 'codesearch index' first")
			}

			queries := args
			if len(queries) == 0 {
				queries = defaultQueries
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Running %d requests with %d concurrent workers...\n", requests, concurrency)
			report, err := runLoad(ctx, a.searcher, queries, requests, concurrency, limit)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report, a.searcher.Stats().Metrics)
			return nil
		},
	}

	cmd.Flags().IntVarP(&requests, "requests", "r", 1000, "Total number of queries")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 100, "Queries in flight at once")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Results per query")
	return cmd
}

func printReport(w io.Writer, r *loadReport, m metrics.Snapshot) {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	pct := func(n, of int) float64 {
		if of == 0 {
			return 0
		}
		return float64(n) / float64(of) * 100
	}

	fmt.Fprintln(w, "Requests:")
	fmt.Fprintf(w, "  Total:      %d in %s\n", r.Requests, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Succeeded:  %d (%.1f%%)\n", r.Succeeded, pct(r.Succeeded, r.Requests))
	fmt.Fprintf(w, "  Failed:     %d (%.1f%%)\n", r.Failed, pct(r.Failed, r.Requests))
	fmt.Fprintf(w, "  Cached:     %d (%.1f%%)\n", r.Cached, pct(r.Cached, r.Succeeded))
	fmt.Fprintf(w, "  Throughput: %.1f queries/s\n", r.Throughput())

	fmt.Fprintln(w, "Latency:")
	fmt.Fprintf(w, "  Mean: %.2fms\n", ms(r.Mean()))
	fmt.Fprintf(w, "  P50:  %.2fms\n", ms(r.Percentile(0.50)))
	fmt.Fprintf(w, "  P90:  %.2fms\n", ms(r.Percentile(0.90)))
	fmt.Fprintf(w, "  P95:  %.2fms\n", ms(r.Percentile(0.95)))
	fmt.Fprintf(w, "  P99:  %.2fms\n", ms(r.Percentile(0.99)))
	fmt.Fprintf(w, "  < 50ms:  %.1f%%\n", r.UnderRate(50*time.Millisecond)*100)
	fmt.Fprintf(w, "  < 200ms: %.1f%%\n", r.UnderRate(200*time.Millisecond)*100)

	fmt.Fprintln(w, "Collector:")
	fmt.Fprintf(w, "  Queries: %d, hit rate %.1f%%, avg %.2fms, rolling %.2fms\n",
		m.TotalQueries, m.HitRate*100, ms(m.AvgLatency), ms(m.RollingLatency))

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "Failures:")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}
