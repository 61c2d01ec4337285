package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalModel names the feature hashing scheme so persisted vectors can be
// matched to the embedder that produced them
const LocalModel = "feature-hash-v1"

// LocalProvider embeds text offline by hashing identifier tokens into a
// fixed number of buckets. Texts sharing identifiers land near each other,
// which is enough for keyword-heavy code queries without a model.
type LocalProvider struct {
	dim   int
	cache *VectorCache
}

// NewLocalProvider creates a local embedder. dim <= 0 uses LocalDimension.
func NewLocalProvider(dim int, cache *VectorCache) (*LocalProvider, error) {
	if dim <= 0 {
		dim = LocalDimension
	}
	return &LocalProvider{dim: dim, cache: cache}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := checkTexts(req.Text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cached(l.cache, ProviderLocal, LocalModel, req.Text, func() ([]*Embedding, error) {
		return []*Embedding{l.embedding(req.Text)}, nil
	})
}

// GenerateBatch embeds every text locally; the cache only serves single
// requests, which is where repeated queries arrive
func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts...); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = l.embedding(text)
	}
	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      LocalModel,
	}, nil
}

func (l *LocalProvider) embedding(text string) *Embedding {
	return &Embedding{
		Vector:    l.embed(text),
		Dimension: l.dim,
		Provider:  ProviderLocal,
		Model:     LocalModel,
	}
}

// embed accumulates signed token hashes and returns a unit vector. Text
// with no tokens yields the zero vector.
func (l *LocalProvider) embed(text string) []float32 {
	vector := make([]float32, l.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := int(sum % uint64(l.dim))
		if sum>>63 == 1 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}

	// Dampen repeated tokens
	for i, v := range vector {
		if v != 0 {
			vector[i] = float32(math.Copysign(math.Log1p(math.Abs(float64(v))), float64(v)))
		}
	}
	return NormalizeVector(vector)
}

func (l *LocalProvider) Dimension() int {
	return l.dim
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return LocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}

// tokenize lower-cases identifier runs and also emits their camelCase parts,
// so "parseHTTPRequest" yields parsehttprequest, parse, http and request.
func tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(words)*2)
	for _, w := range words {
		lower := strings.ToLower(w)
		tokens = append(tokens, lower)

		parts := splitCamel(w)
		if len(parts) > 1 {
			for _, p := range parts {
				tokens = append(tokens, strings.ToLower(p))
			}
		}
	}
	return tokens
}

func splitCamel(word string) []string {
	runes := []rune(word)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur)
		// "HTTPRequest": split before the last upper of an acronym run
		if !boundary && unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if !boundary && unicode.IsDigit(prev) != unicode.IsDigit(cur) {
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
