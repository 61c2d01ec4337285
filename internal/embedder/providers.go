package embedder

import (
	"fmt"
	"os"
	"time"

	"github.com/viant/vec/search"
)

const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Environment variables consulted when no key is configured
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	LargeOpenAIModel   = "text-embedding-3-large"

	DefaultJinaBaseURL = "https://api.jina.ai/v1"

	JinaDimension        = 1024
	OpenAIDimension      = 1536
	OpenAILargeDimension = 3072
	LocalDimension       = 384

	// DefaultBatchSize is the number of units the indexer sends per request
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	defaultHTTPTimeout = 30 * time.Second
)

// ProviderOptions configures a remote provider. Zero fields take defaults.
type ProviderOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Retry   RetryConfig
}

func (o ProviderOptions) apiKey(env string) (string, error) {
	if o.APIKey != "" {
		return o.APIKey, nil
	}
	if key := os.Getenv(env); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingAPIKey, env)
}

func (o ProviderOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return o.Timeout
}

// NormalizeVector scales v to unit length. The zero vector is returned as is.
func NormalizeVector(v []float32) []float32 {
	norm := search.Float32s(v).Magnitude()
	if norm == 0 {
		return v
	}

	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}
