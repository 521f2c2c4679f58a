// Package search answers natural-language queries over the passage index.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

// ErrKeywordUnavailable is returned for keyword or hybrid queries when no keyword index is configured.
var ErrKeywordUnavailable = errors.New("keyword index not configured")

// hybridCandidates is the minimum candidate pool per side in hybrid mode.
const hybridCandidates = 20

// PassageIndex is the semantic index the engine queries.
type PassageIndex interface {
	Exists() bool
	Query(ctx context.Context, text string, topK int) ([]*models.ScoredResult, error)
	Passages(ctx context.Context, ids []string) (map[string]models.Passage, error)
}

// Engine runs semantic, keyword and hybrid search over passages.
type Engine struct {
	index        PassageIndex
	keywordIndex keyword.KeywordIndex
	config       config.SearchConfig
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeywordIndex enables keyword and hybrid modes.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Engine) { e.keywordIndex = k }
}

// WithLogger sets the logger for query events.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over index.
func NewEngine(index PassageIndex, cfg config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{index: index, config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs query and returns the passages scoring at least query.Threshold,
// best first with 1-based ranks. No results is a successful, empty response.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}
	if !e.index.Exists() {
		return nil, vector.ErrIndexNotFound
	}

	var (
		candidates []*models.ScoredResult
		err        error
	)
	switch query.Mode {
	case models.ModeKeyword:
		candidates, err = e.keywordSearch(ctx, query)
	case models.ModeHybrid:
		candidates, err = e.hybridSearch(ctx, query)
	default:
		candidates, err = e.index.Query(ctx, query.Query, query.TopK)
	}
	if err != nil {
		return nil, err
	}

	results := filterByThreshold(candidates, query.Threshold)
	response := &models.SearchResponse{
		Query:     query.Query,
		Mode:      query.Mode,
		Threshold: query.Threshold,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(startTime).Milliseconds(),
	}
	e.logger.Debug("Search completed",
		zap.String("mode", query.Mode),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Int64("query_time_ms", response.QueryTime))
	return response, nil
}

// filterByThreshold keeps results scoring at least threshold, preserving their
// order, and renumbers ranks from 1.
func filterByThreshold(results []*models.ScoredResult, threshold float64) []*models.ScoredResult {
	out := make([]*models.ScoredResult, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			r.Rank = len(out) + 1
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) keywordSearch(ctx context.Context, query *models.SearchQuery) ([]*models.ScoredResult, error) {
	if e.keywordIndex == nil {
		return nil, ErrKeywordUnavailable
	}
	hits, err := e.keywordIndex.Search(ctx, query.Query, query.TopK, &keyword.SearchOptions{
		FilenameBoost: 2,
		Fuzziness:     e.config.Fuzziness,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	scores := NormalizeKeywordScores(hits)
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return e.hydrate(ctx, ids, scores)
}

func (e *Engine) hybridSearch(ctx context.Context, query *models.SearchQuery) ([]*models.ScoredResult, error) {
	if e.keywordIndex == nil {
		return nil, ErrKeywordUnavailable
	}
	pool := max(query.TopK*4, hybridCandidates)

	semantic, err := e.index.Query(ctx, query.Query, pool)
	if err != nil {
		return nil, err
	}
	hits, err := e.keywordIndex.Search(ctx, query.Query, pool, &keyword.SearchOptions{
		FilenameBoost: 2,
		Fuzziness:     e.config.Fuzziness,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	order := make([]string, 0, len(semantic)+len(hits))
	semanticScores := make(map[string]float64, len(semantic))
	known := make(map[string]models.Passage, len(semantic))
	for _, r := range semantic {
		order = append(order, r.Passage.ID)
		semanticScores[r.Passage.ID] = r.Score
		known[r.Passage.ID] = r.Passage
	}
	for _, h := range hits {
		order = append(order, h.ID)
	}
	fused := Fuse(order, NormalizeKeywordScores(hits), semanticScores, e.config.KeywordWeight, e.config.SemanticWeight)
	if len(fused) > query.TopK {
		fused = fused[:query.TopK]
	}

	var missing []string
	for _, f := range fused {
		if _, ok := known[f.PassageID]; !ok {
			missing = append(missing, f.PassageID)
		}
	}
	if len(missing) > 0 {
		found, err := e.index.Passages(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load passages: %w", err)
		}
		for id, p := range found {
			known[id] = p
		}
	}

	results := make([]*models.ScoredResult, 0, len(fused))
	for _, f := range fused {
		p, ok := known[f.PassageID]
		if !ok {
			continue
		}
		results = append(results, &models.ScoredResult{Passage: p, Score: utils.Clamp01(f.Score), Rank: len(results) + 1})
	}
	return results, nil
}

// hydrate loads passages for ids in order. IDs no longer in the store are skipped.
func (e *Engine) hydrate(ctx context.Context, ids []string, scores map[string]float64) ([]*models.ScoredResult, error) {
	passages, err := e.index.Passages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load passages: %w", err)
	}
	results := make([]*models.ScoredResult, 0, len(ids))
	for _, id := range ids {
		p, ok := passages[id]
		if !ok {
			e.logger.Debug("Keyword hit missing from store", zap.String("id", id))
			continue
		}
		results = append(results, &models.ScoredResult{Passage: p, Score: utils.Clamp01(scores[id]), Rank: len(results) + 1})
	}
	return results, nil
}
