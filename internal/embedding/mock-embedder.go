package embedding

import (
	"context"

	"github.com/hyperjump/kioku/pkg/utils"
)

// MockModelID is the model identifier recorded for mock embeddings.
const MockModelID = "mock-hashed-bow"

// MockEmbedder is a deterministic embedder for tests and offline use. Each word
// is hashed into one dimension, so texts sharing words have positive cosine
// similarity and identical texts have similarity 1.
type MockEmbedder struct {
	dimensions int
	modelID    string
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, modelID: MockModelID}
}

// WithModelID returns a copy of e that reports a different model identifier.
func (e *MockEmbedder) WithModelID(id string) *MockEmbedder {
	return &MockEmbedder{dimensions: e.dimensions, modelID: id}
}

// Embed returns the normalized word-count vector of text. Text without words
// maps to the zero vector.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, e.dimensions)
	for _, word := range SplitWords(text) {
		emb[HashString(word)%e.dimensions]++
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns the embedding model identifier.
func (e *MockEmbedder) ModelID() string {
	return e.modelID
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
