// Package vector provides the persistent passage store and its in-memory
// nearest-neighbour index.
package vector

import "context"

// VectorIndex defines in-memory vector storage and similarity search.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit. ID is the passage ID.
type VectorResult struct {
	ID    string
	Score float64 // inner product; cosine similarity for unit vectors
}
