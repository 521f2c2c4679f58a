// Package embedding provides text embedding backends (ONNX, OpenAI, deterministic mock) and caching.
package embedding

import "context"

// Embedder produces unit-length vector embeddings for text.
// ModelID identifies the embedding space; vectors from different model IDs
// must never be compared.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
	Close() error
}

// embedEach implements EmbedBatch for backends without a native batch call.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
