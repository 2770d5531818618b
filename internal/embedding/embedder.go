// Package embedding provides text embedders (mock, Ollama, OpenAI-compatible, ONNX) and an LRU cache decorator.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text. For a fixed ModelID, identical
// input text yields identical vectors of length Dimensions.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
	Close() error
}

// embedEach implements EmbedBatch for embedders without a native batch call.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// firstOrError returns the single vector of a one-element batch.
func firstOrError(vecs [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
