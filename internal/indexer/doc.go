// Package indexer builds searchable generations from source trees.
//
// A build runs the pipeline load -> embed -> index:
//
//	idx := indexer.New(loader.New(loader.Config{}, logger), emb, indexer.Config{
//	    Workers:   4,
//	    BatchSize: 50,
//	    Index:     index.Config{Type: index.TypeIVF, Metric: index.Cosine},
//	}, logger)
//
//	gen, err := idx.Build(ctx, 1, "/src/service", "/src/lib")
//
// Units are embedded in batches by a bounded errgroup pool. Every vector is
// checked against the embedder's dimension before the index is built, so a
// misbehaving provider fails the build with types.ErrBuild instead of
// producing a corrupt index.
//
// # Generations
//
// A Generation bundles the units, their vectors and the index built over
// them. It is never shared between builds: a rebuild produces a fresh
// Generation and the caller swaps it in. Restore recreates a Generation from
// persisted units and vectors without calling the embedder.
//
// When the index type is "qdrant" each generation writes to its own
// collection named <prefix>_g<id>.
package indexer
