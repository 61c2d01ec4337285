package embedder

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider embeds text through go-openai. Vectors are normalized so
// cosine and L2 rank them alike.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dim    int
	retry  RetryConfig
	cache  *VectorCache
}

// NewOpenAIProvider creates an OpenAI embedder. The key falls back to
// OPENAI_API_KEY.
func NewOpenAIProvider(opts ProviderOptions, cache *VectorCache) (*OpenAIProvider, error) {
	apiKey, err := opts.apiKey(EnvOpenAIAPIKey)
	if err != nil {
		return nil, err
	}

	model := cmp.Or(opts.Model, DefaultOpenAIModel)
	clientCfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: opts.timeout()}

	dim := OpenAIDimension
	if model == LargeOpenAIModel {
		dim = OpenAILargeDimension
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		dim:    dim,
		retry:  opts.Retry,
		cache:  cache,
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := checkTexts(req.Text); err != nil {
		return nil, err
	}
	model := cmp.Or(req.Model, o.model)
	return cached(o.cache, ProviderOpenAI, model, req.Text, func() ([]*Embedding, error) {
		return o.embed(ctx, []string{req.Text}, model)
	})
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts...); err != nil {
		return nil, err
	}
	model := cmp.Or(req.Model, o.model)

	embeddings, err := o.embed(ctx, req.Texts, model)
	if err != nil {
		return nil, err
	}
	for i, emb := range embeddings {
		o.cache.Store(model, req.Texts[i], emb.Vector)
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderOpenAI, Model: model}, nil
}

func (o *OpenAIProvider) embed(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	embeddings, err := withRetry(ctx, o.retry, func() ([]*Embedding, error) {
		return o.callAPI(ctx, texts, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrProviderFailed, err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(embeddings), len(texts))
	}
	return embeddings, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: texts,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, classifyStatus(err, apiErr.HTTPStatusCode, nil)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, classifyStatus(err, reqErr.HTTPStatusCode, nil)
		}
		return nil, err
	}

	sort.Slice(resp.Data, func(a, b int) bool { return resp.Data[a].Index < resp.Data[b].Index })

	embeddings := make([]*Embedding, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = &Embedding{
			Vector:    NormalizeVector(d.Embedding),
			Dimension: len(d.Embedding),
			Provider:  ProviderOpenAI,
			Model:     model,
		}
	}
	return embeddings, nil
}

func (o *OpenAIProvider) Dimension() int   { return o.dim }
func (o *OpenAIProvider) Provider() string { return ProviderOpenAI }
func (o *OpenAIProvider) Model() string    { return o.model }
func (o *OpenAIProvider) Close() error     { return nil }
