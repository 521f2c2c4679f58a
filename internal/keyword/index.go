// Package keyword provides the BM25 keyword index over passages.
package keyword

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FilenameBoost multiplies the score contribution of matches in the transcript filename.
	// Use 1.0 for no boost.
	FilenameBoost float64
	// Fuzziness is the maximum edit distance per term (1 or 2). Zero disables fuzzy matching.
	Fuzziness int
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, passages []models.Passage) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. ID is the passage ID.
type KeywordResult struct {
	ID    string
	Score float64
}
