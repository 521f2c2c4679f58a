package search

import (
	"sort"

	"github.com/hyperjump/kioku/internal/keyword"
)

// FusedResult holds a passage ID and its weighted keyword and semantic scores.
type FusedResult struct {
	PassageID     string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores scales keyword scores to [0,1] by the maximum score.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	var maxScore float64
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// Fuse merges keyword and semantic scores with weights and returns results by
// descending fused score. order lists every candidate ID; it breaks ties.
func Fuse(order []string, keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	seen := make(map[string]bool, len(order))
	results := make([]*FusedResult, 0, len(order))
	for _, id := range order {
		if seen[id] {
			continue
		}
		seen[id] = true
		kw, sem := keywordScores[id], semanticScores[id]
		results = append(results, &FusedResult{
			PassageID:     id,
			KeywordScore:  kw,
			SemanticScore: sem,
			Score:         keywordWeight*kw + semanticWeight*sem,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
