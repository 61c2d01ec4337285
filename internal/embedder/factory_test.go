package embedder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name           string
		provider       string
		jinaKey        string
		openaiKey      string
		expectedResult string
	}{
		{name: "explicit jina provider", provider: "jina", expectedResult: ProviderJina},
		{name: "explicit openai provider", provider: "OpenAI", expectedResult: ProviderOpenAI},
		{name: "explicit local provider", provider: "local", expectedResult: ProviderLocal},
		{name: "jina key present", jinaKey: "test-key", expectedResult: ProviderJina},
		{name: "openai key present", openaiKey: "test-key", expectedResult: ProviderOpenAI},
		{name: "both keys, jina takes precedence", jinaKey: "jina-key", openaiKey: "openai-key", expectedResult: ProviderJina},
		{name: "no provider, no keys - fallback to local", expectedResult: ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvProvider, tt.provider)
			t.Setenv(EnvJinaAPIKey, tt.jinaKey)
			t.Setenv(EnvOpenAIAPIKey, tt.openaiKey)

			assert.Equal(t, tt.expectedResult, DetectProvider())
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Run("defaults to local", func(t *testing.T) {
		t.Setenv(EnvProvider, "")
		t.Setenv(EnvJinaAPIKey, "")
		t.Setenv(EnvOpenAIAPIKey, "")

		emb, err := NewFromEnv()
		require.NoError(t, err)
		defer emb.Close()

		assert.Equal(t, ProviderLocal, emb.Provider())
		assert.Equal(t, LocalDimension, emb.Dimension())
	})

	t.Run("explicit provider without key", func(t *testing.T) {
		t.Setenv(EnvProvider, "jina")
		t.Setenv(EnvJinaAPIKey, "")

		_, err := NewFromEnv()
		assert.True(t, errors.Is(err, ErrMissingAPIKey))
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv(EnvProvider, "word2vec")

		_, err := NewFromEnv()
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantErr   error
		wantProv  string
		wantDim   int
		wantModel string
	}{
		{
			name:      "jina with key",
			cfg:       Config{Provider: "jina", APIKey: "test-key", CacheSize: 10},
			wantProv:  ProviderJina,
			wantDim:   JinaDimension,
			wantModel: DefaultJinaModel,
		},
		{
			name:      "openai with key",
			cfg:       Config{Provider: "openai", APIKey: "test-key"},
			wantProv:  ProviderOpenAI,
			wantDim:   OpenAIDimension,
			wantModel: DefaultOpenAIModel,
		},
		{
			name:      "openai large model",
			cfg:       Config{Provider: "openai", APIKey: "test-key", Model: LargeOpenAIModel},
			wantProv:  ProviderOpenAI,
			wantDim:   OpenAILargeDimension,
			wantModel: LargeOpenAIModel,
		},
		{
			name:      "local with custom dimension",
			cfg:       Config{Provider: "local", Dimension: 64},
			wantProv:  ProviderLocal,
			wantDim:   64,
			wantModel: LocalModel,
		},
		{
			name:    "unknown provider",
			cfg:     Config{Provider: "invalid"},
			wantErr: ErrUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer emb.Close()

			assert.Equal(t, tt.wantProv, emb.Provider())
			assert.Equal(t, tt.wantDim, emb.Dimension())
			assert.Equal(t, tt.wantModel, emb.Model())
		})
	}
}
