package search

import (
	"errors"
	"fmt"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
)

// ErrInvalidQuery is returned for queries that fail validation.
var ErrInvalidQuery = errors.New("invalid query")

// ProcessQuery validates the query and applies the configured top-k defaults.
func ProcessQuery(query *models.SearchQuery, cfg config.SearchConfig) error {
	if query == nil {
		return fmt.Errorf("%w: missing query", ErrInvalidQuery)
	}
	if err := query.Validate(cfg.DefaultTopK, cfg.MaxTopK); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}
