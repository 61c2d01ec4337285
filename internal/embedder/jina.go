package embedder

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/cenkalti/backoff/v5"
)

// JinaProvider embeds text through the Jina AI embeddings endpoint
type JinaProvider struct {
	apiKey     string
	model      string
	baseURL    string
	retry      RetryConfig
	httpClient *http.Client
	cache      *VectorCache
}

// NewJinaProvider creates a Jina embedder. The key falls back to JINA_API_KEY.
func NewJinaProvider(opts ProviderOptions, cache *VectorCache) (*JinaProvider, error) {
	apiKey, err := opts.apiKey(EnvJinaAPIKey)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = DefaultJinaModel
	}
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultJinaBaseURL
	}

	return &JinaProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		retry:      opts.Retry,
		httpClient: &http.Client{Timeout: opts.timeout()},
		cache:      cache,
	}, nil
}

func (j *JinaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := checkTexts(req.Text); err != nil {
		return nil, err
	}
	model := cmp.Or(req.Model, j.model)
	return cached(j.cache, ProviderJina, model, req.Text, func() ([]*Embedding, error) {
		return j.embed(ctx, []string{req.Text}, model)
	})
}

func (j *JinaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts...); err != nil {
		return nil, err
	}
	model := cmp.Or(req.Model, j.model)

	embeddings, err := j.embed(ctx, req.Texts, model)
	if err != nil {
		return nil, err
	}
	for i, emb := range embeddings {
		j.cache.Store(model, req.Texts[i], emb.Vector)
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderJina, Model: model}, nil
}

func (j *JinaProvider) embed(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	embeddings, err := withRetry(ctx, j.retry, func() ([]*Embedding, error) {
		return j.callAPI(ctx, texts, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: jina: %v", ErrProviderFailed, err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(embeddings), len(texts))
	}
	return embeddings, nil
}

type jinaRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (j *JinaProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	body, err := json.Marshal(jinaRequest{Input: texts, Model: model})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(fmt.Errorf("api error %d: %s", resp.StatusCode, msg), resp.StatusCode, resp.Header)
	}

	var out jinaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	sort.Slice(out.Data, func(a, b int) bool { return out.Data[a].Index < out.Data[b].Index })

	embeddings := make([]*Embedding, len(out.Data))
	for i, d := range out.Data {
		embeddings[i] = &Embedding{
			Vector:    d.Embedding,
			Dimension: len(d.Embedding),
			Provider:  ProviderJina,
			Model:     model,
		}
	}
	return embeddings, nil
}

func (j *JinaProvider) Dimension() int   { return JinaDimension }
func (j *JinaProvider) Provider() string { return ProviderJina }
func (j *JinaProvider) Model() string    { return j.model }

func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}
