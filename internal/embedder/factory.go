package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvProvider selects the provider when no explicit configuration is given
const EnvProvider = "CODESEARCH_EMBEDDER_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider  string // jina, openai, local; empty auto-detects
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int // Local provider only
	CacheSize int
	Timeout   time.Duration
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. CODESEARCH_EMBEDDER_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{
		Provider:  os.Getenv(EnvProvider),
		CacheSize: DefaultCacheSize,
	})
}

// New creates an embedder with explicit configuration. An empty provider
// is resolved the same way DetectProvider does.
func New(cfg Config) (Embedder, error) {
	var cache *VectorCache
	if cfg.CacheSize > 0 {
		cache = NewVectorCache(cfg.CacheSize)
	}

	opts := ProviderOptions{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(opts, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(opts, cache)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnknownProvider, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
