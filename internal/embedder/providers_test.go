package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry keeps retry tests quick
var fastRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	MaxDelay:    5 * time.Millisecond,
	Multiplier:  2.0,
}

// embeddingServer answers the embeddings endpoint with dim-sized vectors.
// The first failures requests get the given status instead.
func embeddingServer(t *testing.T, dim, failures, status int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if int(n) <= failures {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Answer in reverse order to exercise index sorting
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[i%dim] = 1
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": vec,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
}

func TestJinaProvider(t *testing.T) {
	t.Run("batch against server", func(t *testing.T) {
		var calls int32
		server := embeddingServer(t, 8, 0, 0, &calls)
		defer server.Close()

		cache := NewVectorCache(10)
		provider, err := NewJinaProvider(ProviderOptions{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry}, cache)
		require.NoError(t, err)
		defer provider.Close()

		resp, err := provider.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b", "c"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 3)
		assert.Equal(t, ProviderJina, resp.Provider)
		for i, emb := range resp.Embeddings {
			assert.Equal(t, float32(1), emb.Vector[i], "embedding %d out of order", i)
		}
		assert.Equal(t, 3, cache.Stats().Size)

		// Cached text does not reach the server
		_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "b"})
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		server := embeddingServer(t, 4, 2, http.StatusInternalServerError, &calls)
		defer server.Close()

		provider, err := NewJinaProvider(ProviderOptions{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry}, nil)
		require.NoError(t, err)

		emb, err := provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
		require.NoError(t, err)
		assert.Len(t, emb.Vector, 4)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		server := embeddingServer(t, 4, 5, http.StatusUnauthorized, &calls)
		defer server.Close()

		provider, err := NewJinaProvider(ProviderOptions{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry}, nil)
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("provider metadata", func(t *testing.T) {
		provider, err := NewJinaProvider(ProviderOptions{APIKey: "test-key"}, NewVectorCache(10))
		require.NoError(t, err)
		defer provider.Close()

		assert.Equal(t, ProviderJina, provider.Provider())
		assert.Equal(t, JinaDimension, provider.Dimension())
		assert.Equal(t, DefaultJinaModel, provider.Model())
	})

	t.Run("missing api key", func(t *testing.T) {
		t.Setenv(EnvJinaAPIKey, "")
		_, err := NewJinaProvider(ProviderOptions{}, nil)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("validation errors", func(t *testing.T) {
		provider, err := NewJinaProvider(ProviderOptions{APIKey: "test-key"}, NewVectorCache(10))
		require.NoError(t, err)
		defer provider.Close()

		ctx := context.Background()

		_, err = provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: ""})
		assert.ErrorIs(t, err, ErrEmptyText)

		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{}})
		assert.ErrorIs(t, err, ErrEmptyText)

		largeTexts := make([]string, MaxBatchSize+1)
		for i := range largeTexts {
			largeTexts[i] = "text"
		}
		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: largeTexts})
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})
}

func TestOpenAIProvider(t *testing.T) {
	t.Run("batch against server", func(t *testing.T) {
		var calls int32
		server := embeddingServer(t, 6, 0, 0, &calls)
		defer server.Close()

		provider, err := NewOpenAIProvider(ProviderOptions{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry}, NewVectorCache(10))
		require.NoError(t, err)
		defer provider.Close()

		resp, err := provider.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"first", "second"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)
		assert.Equal(t, ProviderOpenAI, resp.Provider)
		assert.Equal(t, DefaultOpenAIModel, resp.Model)
		assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0])
		assert.Equal(t, float32(1), resp.Embeddings[1].Vector[1])
	})

	t.Run("retries rate limits", func(t *testing.T) {
		var calls int32
		server := embeddingServer(t, 6, 1, http.StatusTooManyRequests, &calls)
		defer server.Close()

		provider, err := NewOpenAIProvider(ProviderOptions{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry}, nil)
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("provider metadata", func(t *testing.T) {
		provider, err := NewOpenAIProvider(ProviderOptions{APIKey: "test-key"}, NewVectorCache(10))
		require.NoError(t, err)
		defer provider.Close()

		assert.Equal(t, ProviderOpenAI, provider.Provider())
		assert.Equal(t, OpenAIDimension, provider.Dimension())
		assert.Equal(t, DefaultOpenAIModel, provider.Model())
	})

	t.Run("missing api key", func(t *testing.T) {
		t.Setenv(EnvOpenAIAPIKey, "")
		_, err := NewOpenAIProvider(ProviderOptions{}, nil)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("validation errors", func(t *testing.T) {
		provider, err := NewOpenAIProvider(ProviderOptions{APIKey: "test-key"}, nil)
		require.NoError(t, err)

		_, err = provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: ""})
		assert.ErrorIs(t, err, ErrEmptyText)
	})
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds after transient error", func(t *testing.T) {
		callCount := 0
		result, err := withRetry(context.Background(), fastRetry, func() (string, error) {
			callCount++
			if callCount < 2 {
				return "", fmt.Errorf("transient error")
			}
			return "success", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, 2, callCount)
	})

	t.Run("exponential backoff timing", func(t *testing.T) {
		config := RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    100 * time.Millisecond,
			Multiplier:  2.0,
		}

		callCount := 0
		start := time.Now()
		_, err := withRetry(context.Background(), config, func() (int, error) {
			callCount++
			return 0, fmt.Errorf("always fails")
		})

		assert.Error(t, err)
		assert.Equal(t, 3, callCount)
		// 10ms + 20ms
		assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(30))
	})

	t.Run("returns last error", func(t *testing.T) {
		config := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0}

		callCount := 0
		_, err := withRetry(context.Background(), config, func() (bool, error) {
			callCount++
			return false, fmt.Errorf("error %d", callCount)
		})
		assert.Equal(t, 5, callCount)
		assert.EqualError(t, err, "error 5")
	})

	t.Run("permanent error stops retries", func(t *testing.T) {
		sentinel := errors.New("bad request")
		callCount := 0
		_, err := withRetry(context.Background(), fastRetry, func() (int, error) {
			callCount++
			return 0, backoff.Permanent(sentinel)
		})
		assert.Equal(t, 1, callCount)
		assert.Equal(t, sentinel, err)
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		config := RetryConfig{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2.0}

		callCount := 0
		_, err := withRetry(ctx, config, func() (string, error) {
			callCount++
			if callCount == 2 {
				cancel()
			}
			return "", fmt.Errorf("error")
		})
		assert.Equal(t, context.Canceled, err)
		assert.LessOrEqual(t, callCount, 3)
	})

	t.Run("max delay cap is enforced", func(t *testing.T) {
		config := RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
			Multiplier:  4.0,
		}

		var delays []time.Duration
		callCount := 0
		lastTime := time.Now()
		_, err := withRetry(context.Background(), config, func() (int, error) {
			callCount++
			if callCount > 1 {
				delays = append(delays, time.Since(lastTime))
			}
			lastTime = time.Now()
			return 0, fmt.Errorf("error")
		})
		assert.Error(t, err)

		for i, delay := range delays {
			assert.LessOrEqual(t, delay.Milliseconds(), int64(40), "delay %d should be capped", i)
		}
	})

	t.Run("default config values", func(t *testing.T) {
		config := DefaultRetryConfig()
		assert.Equal(t, 3, config.MaxAttempts)
		assert.Equal(t, 100*time.Millisecond, config.BaseDelay)
		assert.Equal(t, 5000*time.Millisecond, config.MaxDelay)
		assert.Equal(t, 2.0, config.Multiplier)
	})

	t.Run("zero attempts uses defaults", func(t *testing.T) {
		callCount := 0
		_, err := withRetry(context.Background(), RetryConfig{}, func() (int, error) {
			callCount++
			return 0, backoff.Permanent(errors.New("bad request"))
		})
		assert.Error(t, err)
		assert.Equal(t, 1, callCount)
	})
}

func TestClassifyStatus(t *testing.T) {
	apiErr := errors.New("api error")

	t.Run("client errors are permanent", func(t *testing.T) {
		for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
			var perm *backoff.PermanentError
			err := classifyStatus(apiErr, status, nil)
			require.ErrorAs(t, err, &perm, "status %d", status)
			assert.ErrorIs(t, err, apiErr)
		}
	})

	t.Run("server and network errors retry", func(t *testing.T) {
		for _, status := range []int{0, http.StatusInternalServerError, http.StatusBadGateway} {
			assert.Equal(t, apiErr, classifyStatus(apiErr, status, nil), "status %d", status)
		}
	})

	t.Run("rate limit honors retry-after", func(t *testing.T) {
		header := http.Header{}
		header.Set("Retry-After", "7")

		var after *backoff.RetryAfterError
		require.ErrorAs(t, classifyStatus(apiErr, http.StatusTooManyRequests, header), &after)
		assert.Equal(t, 7*time.Second, after.Duration)

		assert.Equal(t, apiErr, classifyStatus(apiErr, http.StatusTooManyRequests, nil))
		header.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
		assert.Equal(t, apiErr, classifyStatus(apiErr, http.StatusTooManyRequests, header))
	})
}
