package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestLocalProvider(t *testing.T) {
	provider, err := NewLocalProvider(0, NewVectorCache(10))
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()

	t.Run("provider metadata", func(t *testing.T) {
		assert.Equal(t, ProviderLocal, provider.Provider())
		assert.Equal(t, LocalDimension, provider.Dimension())
		assert.Equal(t, LocalModel, provider.Model())
	})

	t.Run("deterministic unit vectors", func(t *testing.T) {
		a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func ParseFile(path string) error"})
		require.NoError(t, err)
		assert.Len(t, a.Vector, LocalDimension)
		assert.InDelta(t, 1.0, cosine(a.Vector, a.Vector), 1e-5)

		fresh, err := NewLocalProvider(0, nil)
		require.NoError(t, err)
		b, err := fresh.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func ParseFile(path string) error"})
		require.NoError(t, err)
		assert.Equal(t, a.Vector, b.Vector)
	})

	t.Run("shared identifiers score higher", func(t *testing.T) {
		query, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "parse http request"})
		near, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func parseHTTPRequest(r *Request) error"})
		far, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "SELECT name FROM users WHERE id = 1"})

		assert.Greater(t, cosine(query.Vector, near.Vector), cosine(query.Vector, far.Vector))
	})

	t.Run("punctuation only yields zero vector", func(t *testing.T) {
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "{}();"})
		require.NoError(t, err)
		assert.Equal(t, 0.0, cosine(emb.Vector, emb.Vector))
	})

	t.Run("batch embedding", func(t *testing.T) {
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"text1", "text2", "text3"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 3)
		assert.NoError(t, CheckDimension(resp.Embeddings, LocalDimension))
	})

	t.Run("validation errors", func(t *testing.T) {
		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: ""})
		assert.ErrorIs(t, err, ErrEmptyText)

		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{}})
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := provider.GenerateEmbedding(cctx, EmbeddingRequest{Text: "test"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalProviderCaching(t *testing.T) {
	cache := NewVectorCache(100)
	provider, err := NewLocalProvider(32, cache)
	require.NoError(t, err)

	ctx := context.Background()
	queries := []string{"open database connection", "parse config file", "open database connection"}

	for _, q := range queries {
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: q})
		require.NoError(t, err)
		assert.Len(t, emb.Vector, 32)
	}
	assert.Equal(t, CacheStats{Size: 2, Hits: 1, Misses: 2}, cache.Stats())

	vec, ok := cache.Lookup(LocalModel, "parse config file")
	require.True(t, ok)
	assert.Equal(t, provider.embed("parse config file"), vec)

	// Index batches bypass the cache
	_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"code1", "code2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Stats().Size)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"parseHTTPRequest", []string{"parsehttprequest", "parse", "http", "request"}},
		{"snake_case name", []string{"snake", "case", "name"}},
		{"utf8Decode", []string{"utf8decode", "utf", "8", "decode"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.in))
		})
	}
}
