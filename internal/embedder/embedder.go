package embedder

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrMissingAPIKey     = errors.New("embedding provider api key not set")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
)

// Embedding is one vector and the provider and model that produced it.
// Vectors are only comparable with vectors of the same provider and model.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
}

// EmbeddingRequest asks for one vector. Model overrides the provider default.
type EmbeddingRequest struct {
	Text  string
	Model string
}

// BatchEmbeddingRequest asks for one vector per text, in order
type BatchEmbeddingRequest struct {
	Texts []string
	Model string
}

type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder maps text to fixed-dimension vectors. Identical input yields an
// identical vector, and every vector has exactly Dimension() components.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch returns embeddings in the order of req.Texts
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// checkTexts rejects an empty batch, an empty text or a batch over MaxBatchSize
func checkTexts(texts ...string) error {
	switch {
	case len(texts) == 0:
		return fmt.Errorf("%w: no texts provided", ErrEmptyText)
	case len(texts) > MaxBatchSize:
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(texts), MaxBatchSize)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text %d", ErrEmptyText, i)
		}
	}
	return nil
}

// CheckDimension verifies that every embedding in a response has the
// expected length
func CheckDimension(embeddings []*Embedding, want int) error {
	for i, emb := range embeddings {
		if emb == nil || len(emb.Vector) != want {
			got := 0
			if emb != nil {
				got = len(emb.Vector)
			}
			return fmt.Errorf("%w: embedding %d has %d dimensions, want %d", ErrDimensionMismatch, i, got, want)
		}
	}
	return nil
}
