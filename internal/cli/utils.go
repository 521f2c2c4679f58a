// Package cli provides output helpers for the kioku command line.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/vector"
)

// PreviewRunes is how much passage text the text format shows per result.
const PreviewRunes = 300

// maxWarningRunes bounds each skipped-file line in the index summary.
const maxWarningRunes = 200

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption and export.
	OutputJSON SearchOutputFormat = "json"
)

// ParseOutputFormat maps a flag value to a format.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// Messages shown for outcomes that are not plain results.
const (
	MsgNoIndex     = "No index found. Run `kioku index` first."
	MsgNoResults   = "No passages met the threshold."
	MsgEmptyVault  = "No transcripts with passages found in the vault."
	MsgModelChange = "The index was built with a different embedding model. Run `kioku index --force` to rebuild it."
)

// WriteSearchResults writes search results to w in the given format.
// Unknown formats are written as text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputCompact:
		writeSearchResultsCompact(w, response)
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	if len(response.Results) == 0 {
		fmt.Fprintf(w, "\n%s (%dms)\n", MsgNoResults, response.QueryTime)
		return
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n\n", response.Total, response.QueryTime, response.Mode)
	for _, result := range response.Results {
		writeOneResult(w, result, response.Query)
	}
}

func writeOneResult(w io.Writer, result *models.ScoredResult, query string) {
	m := result.Passage.Metadata
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "#%d  %s  relevance %s\n", result.Rank, m.Filename, Percent(result.Score))
	fmt.Fprintf(w, "%s, turn %d", m.Speaker, m.TurnIndex+1)
	if m.ChunkCount > 1 {
		fmt.Fprintf(w, ", part %d/%d", m.ChunkIndex+1, m.ChunkCount)
	}
	fmt.Fprintf(w, "\n\n%s\n\n", search.Highlight(result.Passage.Text, query, PreviewRunes, nil))
}

func writeSearchResultsCompact(w io.Writer, response *models.SearchResponse) {
	if len(response.Results) == 0 {
		fmt.Fprintln(w, MsgNoResults)
		return
	}
	for _, r := range response.Results {
		m := r.Passage.Metadata
		fmt.Fprintf(w, "%d\t%s\t%s\t%s#%d\t%s\n",
			r.Rank, Percent(r.Score), m.Filename, m.Speaker, m.TurnIndex,
			TruncateWords(flatten(r.Passage.Text), 12))
	}
}

// WriteIndexStats writes a summary of an indexing run.
func WriteIndexStats(w io.Writer, stats *models.IndexStats) {
	fmt.Fprintf(w, "Indexed %d passages from %d turns (%d files, %d unchanged) in %s\n",
		stats.Passages, stats.Turns, stats.Files, stats.FilesUnchanged, stats.Duration.Round(time.Millisecond))
	if stats.FilesRemoved > 0 {
		fmt.Fprintf(w, "Removed %d deleted files from the index\n", stats.FilesRemoved)
	}
	if stats.FilesSkipped > 0 {
		fmt.Fprintf(w, "%d files skipped:\n", stats.FilesSkipped)
		for _, warn := range stats.Warnings {
			fmt.Fprintf(w, "  %s\n", Truncate(warn.Message, maxWarningRunes))
		}
	}
}

// WriteIndexStatus writes the persisted index description as aligned text.
func WriteIndexStatus(w io.Writer, status *models.IndexStatus) {
	fmt.Fprintf(w, "passages:           %d\n", status.Passages)
	fmt.Fprintf(w, "sources:            %d\n", status.Sources)
	fmt.Fprintf(w, "embedding_model:    %s\n", status.Model)
	fmt.Fprintf(w, "dimensions:         %d\n", status.Dimensions)
	fmt.Fprintf(w, "index_path:         %s\n", status.IndexPath)
	fmt.Fprintf(w, "disk_usage_bytes:   %d\n", status.DiskUsageBytes)
}

// ErrorMessage returns the user-facing message for err.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, vector.ErrIndexNotFound):
		return MsgNoIndex
	case errors.Is(err, vector.ErrEmbeddingModelMismatch):
		return MsgModelChange
	case indexer.IsEmptyVault(err):
		return MsgEmptyVault
	case errors.Is(err, indexer.ErrDirectoryNotFound):
		return fmt.Sprintf("Vault not found: %v", err)
	case errors.Is(err, search.ErrInvalidQuery):
		return fmt.Sprintf("Invalid query: %v", err)
	default:
		return err.Error()
	}
}

// Percent formats a [0, 1] score as a whole percentage.
func Percent(score float64) string {
	return fmt.Sprintf("%.0f%%", score*100)
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
