package models

import "fmt"

// Search modes.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
	ModeHybrid   = "hybrid"
)

// SearchQuery represents a search request.
// Threshold 0 means no filtering; results below Threshold are dropped.
type SearchQuery struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Mode      string  `json:"mode,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// defaultTopK is used when TopK is unset; maxTopK caps TopK when positive.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %g", q.Threshold)
	}
	if q.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", q.TopK)
	}
	if q.TopK == 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	switch q.Mode {
	case "":
		q.Mode = ModeSemantic
	case ModeSemantic, ModeKeyword, ModeHybrid:
	default:
		return fmt.Errorf("unknown search mode %q", q.Mode)
	}
	return nil
}
