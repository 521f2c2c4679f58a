package models

import "time"

// ScoredResult is a passage with its relevance score in [0, 1]; higher is more relevant.
// Rank is 1-based within a response.
type ScoredResult struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// SearchResponse is the response for a search request.
// Results are ordered by descending score. An empty Results slice means
// nothing met the threshold, which is not an error.
type SearchResponse struct {
	Query     string          `json:"query"`
	Mode      string          `json:"mode"`
	Threshold float64         `json:"threshold"`
	Results   []*ScoredResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}

// IndexStats summarizes one indexing run.
type IndexStats struct {
	Files          int           `json:"files"`
	FilesUnchanged int           `json:"files_unchanged"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesRemoved   int           `json:"files_removed"`
	Turns          int           `json:"turns"`
	Passages       int           `json:"passages"`
	Warnings       []Warning     `json:"warnings,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// IndexStatus describes the persisted index.
type IndexStatus struct {
	Passages       int64  `json:"passages"`
	Sources        int64  `json:"sources"`
	Model          string `json:"embedding_model"`
	Dimensions     int    `json:"dimensions"`
	IndexPath      string `json:"index_path"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}
