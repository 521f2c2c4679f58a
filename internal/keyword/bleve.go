package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kioku/internal/models"
)

// batchSize bounds the number of passages per Bleve batch.
const batchSize = 500

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// passageDoc is the indexed form of a passage.
type passageDoc struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
	Speaker  string `json:"speaker"`
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, passageMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func passageMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// standard analyzer: lowercase and tokenize without stemming, so exact words match
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("filename", textFieldMapping)
	speakerMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("speaker", speakerMapping)
	im.AddDocumentMapping("passage", docMapping)
	im.DefaultType = "passage"
	im.DefaultMapping = docMapping
	return im
}

// Index adds or replaces passages, in batches.
func (b *BleveIndex) Index(ctx context.Context, passages []models.Passage) error {
	for start := 0; start < len(passages); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := b.index.NewBatch()
		for _, p := range passages[start:min(start+batchSize, len(passages))] {
			doc := passageDoc{Text: p.Text, Filename: p.Metadata.Filename, Speaker: string(p.Metadata.Speaker)}
			if err := batch.Index(p.ID, doc); err != nil {
				return fmt.Errorf("failed to index passage %s: %w", p.ID, err)
			}
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve batch failed: %w", err)
		}
	}
	return nil
}

// Search runs a match query over passage text and filename and returns up to limit hits, best first.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		return []*KeywordResult{}, nil
	}
	filenameBoost := 1.0
	fuzziness := 0
	if opts != nil {
		if opts.FilenameBoost > 0 {
			filenameBoost = opts.FilenameBoost
		}
		fuzziness = opts.Fuzziness
	}

	q := bleve.NewDisjunctionQuery(
		buildFieldQuery(query, "text", fuzziness, 1.0),
		buildFieldQuery(query, "filename", fuzziness, filenameBoost),
	)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFieldQuery matches query against field. With fuzziness > 0 each term is
// matched within that edit distance and any term may match.
func buildFieldQuery(query, field string, fuzziness int, boost float64) blevequery.Query {
	terms := tokenizeQuery(query)
	if fuzziness <= 0 || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	dq := bleve.NewDisjunctionQuery(queries...)
	dq.SetBoost(boost)
	return dq
}

// Delete removes passages from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += batchSize {
		batch := b.index.NewBatch()
		for _, id := range ids[start:min(start+batchSize, len(ids))] {
			batch.Delete(id)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve delete failed: %w", err)
		}
	}
	return nil
}

// DocCount returns the total number of passages in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// Drop removes the Bleve index directory at path.
func Drop(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(path)
}
