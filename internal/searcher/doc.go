// Package searcher is the query path of the search engine.
//
// A Searcher owns the serving generation, the query cache and the metrics
// collector:
//
//	s := searcher.New(idx, cache.New(1000), metrics.New(), searcher.Options{
//	    Timeout:   2 * time.Second,
//	    Overfetch: 2,
//	}, logger)
//	if _, err := s.Rebuild(ctx, "/src/service"); err != nil { ... }
//
//	resp, err := s.Search(ctx, "parse config file", 10)
//
// # Query Path
//
//  1. Reject an empty query or a non-positive limit with types.ErrInvalidQuery
//  2. Look up (normalized query, limit) in the cache for the current generation
//  3. On a miss, embed the query and ask the index for limit*Overfetch neighbors
//  4. Convert distances to similarity, sort by (score desc, id asc), truncate
//  5. Cache the ranked ids and hydrate units from the same generation
//
// Embedder failures surface as types.ErrEmbedding. A deadline hit in the
// embedder or the index surfaces as types.ErrTimeout, which callers may retry.
//
// # Generations
//
// The serving generation sits behind one atomic pointer together with the
// tag that cache entries are stored under. Rebuild builds off to the side,
// swaps the pointer and clears the cache. Queries that already loaded the
// old generation finish against it; the old generation is closed once they
// are done. A failed rebuild leaves the serving generation untouched.
package searcher
