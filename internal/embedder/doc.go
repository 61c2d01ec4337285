// Package embedder turns text into fixed-dimension vectors.
//
// Three providers implement the Embedder interface:
//
//   - jina: Jina AI embeddings over HTTP (1024 dimensions)
//   - openai: OpenAI embeddings through go-openai (1536 or 3072 dimensions)
//   - local: offline feature hashing of identifier tokens (384 dimensions by default)
//
// Providers reject empty input and return vectors of exactly Dimension()
// length. Single requests go through an optional VectorCache keyed by model
// and text; the searcher normalizes queries first so repeated queries hit.
// Remote providers batch up to MaxBatchSize texts per call and retry
// transient failures through cenkalti/backoff, honoring Retry-After on 429.
// Client errors are returned immediately.
//
// # Provider Selection
//
// New resolves an empty Config.Provider the same way DetectProvider does:
//
//  1. CODESEARCH_EMBEDDER_PROVIDER, if set
//  2. jina, if JINA_API_KEY is set
//  3. openai, if OPENAI_API_KEY is set
//  4. local otherwise
//
// # Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 10000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // retries exhausted or the provider rejected the request
//	}
//
// Vectors produced by one provider and model are only comparable with
// vectors from the same provider and model. The index build records both so
// a snapshot is never queried with a mismatched embedder.
package embedder
