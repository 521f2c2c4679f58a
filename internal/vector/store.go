package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
)

// IndexFileName is the SQLite file holding passages and vectors inside an index location.
const IndexFileName = "index.db"

// embedBatchSize is the number of passages sent to the embedder per call.
const embedBatchSize = 64

const (
	metaModel      = "embedding_model"
	metaDimensions = "dimensions"
)

var (
	// ErrIndexNotFound is returned when no persisted index exists at a location.
	ErrIndexNotFound = errors.New("index not found")
	// ErrEmptyInsert is returned when an insert carries no passages.
	ErrEmptyInsert = errors.New("no passages to insert")
	// ErrEmbeddingModelMismatch is returned when an index was built with a different embedding model.
	ErrEmbeddingModelMismatch = errors.New("embedding model mismatch")
)

// EmbedProgress receives progress while passages are embedded.
type EmbedProgress interface {
	Start(total int)
	Increment()
	Finish()
}

// Store is a persistent passage index: passages and their embeddings live in
// SQLite, and an in-memory VectorIndex answers nearest-neighbour queries.
// Writers hold the lock for a whole batch; queries share it.
type Store struct {
	location string
	embedder embedding.Embedder
	storage  storage.Storage
	index    VectorIndex
	logger   *zap.Logger
	mu       sync.RWMutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for store operations.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// IndexFile returns the SQLite path for an index location.
func IndexFile(location string) string {
	return filepath.Join(location, IndexFileName)
}

// Exists reports whether a persisted index exists at location.
func Exists(location string) bool {
	info, err := os.Stat(IndexFile(location))
	return err == nil && !info.IsDir()
}

// Drop removes the persisted index at location, including SQLite journal files.
func Drop(location string) error {
	for _, p := range storage.DatabaseFiles(IndexFile(location)) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// Open opens the persisted index at location. It fails with ErrIndexNotFound if
// none exists and ErrEmbeddingModelMismatch if it was built with another model.
func Open(ctx context.Context, location string, embedder embedding.Embedder, opts ...StoreOption) (*Store, error) {
	if !Exists(location) {
		return nil, fmt.Errorf("%w at %s", ErrIndexNotFound, location)
	}
	return open(ctx, location, embedder, opts)
}

// CreateOrOpen opens the persisted index at location, creating an empty one if needed.
// Calling it repeatedly for the same location is safe.
func CreateOrOpen(ctx context.Context, location string, embedder embedding.Embedder, opts ...StoreOption) (*Store, error) {
	return open(ctx, location, embedder, opts)
}

func open(ctx context.Context, location string, embedder embedding.Embedder, opts []StoreOption) (*Store, error) {
	s := &Store{location: location, embedder: embedder, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	st, err := storage.NewSQLiteStorage(IndexFile(location))
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	if err := s.checkModel(ctx, st); err != nil {
		_ = st.Close()
		return nil, err
	}

	idx, err := NewMemoryIndex(embedder.Dimensions())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	records, err := st.LoadVectors(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	for i, r := range records {
		ids[i] = r.ID
		vecs[i] = r.Embedding
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	s.storage = st
	s.index = idx
	s.logger.Debug("Opened index",
		zap.String("location", location),
		zap.Int("passages", len(records)),
		zap.String("model", embedder.ModelID()))
	return s, nil
}

// checkModel records the embedder's model on first open and rejects any other model afterwards.
func (s *Store) checkModel(ctx context.Context, st storage.Storage) error {
	model, ok, err := st.Meta(ctx, metaModel)
	if err != nil {
		return fmt.Errorf("failed to read index metadata: %w", err)
	}
	dims := strconv.Itoa(s.embedder.Dimensions())
	if !ok {
		if err := st.SetMeta(ctx, map[string]string{
			metaModel:      s.embedder.ModelID(),
			metaDimensions: dims,
		}); err != nil {
			return fmt.Errorf("failed to write index metadata: %w", err)
		}
		return nil
	}
	recordedDims, _, err := st.Meta(ctx, metaDimensions)
	if err != nil {
		return fmt.Errorf("failed to read index metadata: %w", err)
	}
	if model != s.embedder.ModelID() || recordedDims != dims {
		return fmt.Errorf("%w: index uses %s (%s dims), embedder is %s (%s dims)",
			ErrEmbeddingModelMismatch, model, recordedDims, s.embedder.ModelID(), dims)
	}
	return nil
}

// Location returns the index location directory.
func (s *Store) Location() string {
	return s.location
}

// Exists reports whether the store's backing file is still present.
func (s *Store) Exists() bool {
	return Exists(s.location)
}

// BulkInsert embeds and stores passages as one atomic batch.
func (s *Store) BulkInsert(ctx context.Context, passages []models.Passage, progress EmbedProgress) error {
	if len(passages) == 0 {
		return ErrEmptyInsert
	}
	_, err := s.Replace(ctx, nil, passages, progress)
	return err
}

// Replace removes the passages of the given sources and inserts passages in the
// same transaction. Embedding happens before anything is written, so a failure
// leaves both the persisted store and the in-memory index unchanged. It returns
// the IDs of the removed passages.
func (s *Store) Replace(ctx context.Context, sources []storage.SourceRecord, passages []models.Passage, progress EmbedProgress) ([]string, error) {
	if len(sources) == 0 && len(passages) == 0 {
		return nil, ErrEmptyInsert
	}
	start := time.Now()
	records, err := s.embed(ctx, passages, progress)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.storage.ReplaceSources(ctx, sources, records)
	if err != nil {
		return nil, fmt.Errorf("failed to write passages: %w", err)
	}
	s.publish(ctx, removed, records)

	s.logger.Debug("Inserted batch",
		zap.Int("passages", len(records)),
		zap.Int("removed", len(removed)),
		zap.Int("sources", len(sources)),
		zap.Duration("duration", time.Since(start)))
	return removed, nil
}

// DeleteSources removes the given source files and their passages.
func (s *Store) DeleteSources(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.storage.DeleteSources(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to delete sources: %w", err)
	}
	s.publish(ctx, removed, nil)
	return removed, nil
}

// DeleteSource removes a single source file and its passages.
func (s *Store) DeleteSource(ctx context.Context, path string) ([]string, error) {
	return s.DeleteSources(ctx, []string{path})
}

// publish applies a committed change to the in-memory index. Callers hold the write lock.
func (s *Store) publish(ctx context.Context, removed []string, records []storage.PassageRecord) {
	_ = s.index.Remove(ctx, removed)
	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	for i, r := range records {
		ids[i] = r.Passage.ID
		vecs[i] = r.Embedding
	}
	// dimensions were checked in embed
	_ = s.index.Add(ctx, ids, vecs)
}

func (s *Store) embed(ctx context.Context, passages []models.Passage, progress EmbedProgress) ([]storage.PassageRecord, error) {
	if progress != nil {
		progress.Start(len(passages))
		defer progress.Finish()
	}
	dims := s.embedder.Dimensions()
	records := make([]storage.PassageRecord, 0, len(passages))
	for start := 0; start < len(passages); start += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := passages[start:min(start+embedBatchSize, len(passages))]
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed passages: %w", err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d passages", len(vecs), len(batch))
		}
		for i, p := range batch {
			if len(vecs[i]) != dims {
				return nil, fmt.Errorf("embedding for passage %s has %d dimensions, want %d", p.ID, len(vecs[i]), dims)
			}
			records = append(records, storage.PassageRecord{Passage: p, Embedding: vecs[i]})
			if progress != nil {
				progress.Increment()
			}
		}
	}
	return records, nil
}

// Query embeds text and returns up to topK passages by descending similarity.
// Equal scores are returned in insertion order. Scores are clamped to [0, 1].
func (s *Store) Query(ctx context.Context, text string, topK int) ([]*models.ScoredResult, error) {
	if topK <= 0 {
		return []*models.ScoredResult{}, nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.index.Search(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	passages, err := s.storage.GetPassages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load passages: %w", err)
	}
	results := make([]*models.ScoredResult, 0, len(hits))
	for _, h := range hits {
		p, ok := passages[h.ID]
		if !ok {
			continue
		}
		results = append(results, &models.ScoredResult{
			Passage: p,
			Score:   utils.Clamp01(h.Score),
			Rank:    len(results) + 1,
		})
	}
	return results, nil
}

// Passages returns the stored passages with the given IDs.
func (s *Store) Passages(ctx context.Context, ids []string) (map[string]models.Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage.GetPassages(ctx, ids)
}

// ListPassages pages through stored passages in insertion order.
func (s *Store) ListPassages(ctx context.Context, offset, limit int) ([]models.Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage.ListPassages(ctx, offset, limit)
}

// Sources returns the recorded source files keyed by path.
func (s *Store) Sources(ctx context.Context) (map[string]storage.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage.Sources(ctx)
}

// Size returns the number of passages in the in-memory index.
func (s *Store) Size() int {
	return s.index.Size()
}

// Stats describes the persisted index.
func (s *Store) Stats(ctx context.Context) (*models.IndexStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	passages, err := s.storage.CountPassages(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := s.storage.CountSources(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := storage.DiskUsageBytes(storage.DatabaseFiles(IndexFile(s.location))...)
	if err != nil {
		return nil, err
	}
	return &models.IndexStatus{
		Passages:       passages,
		Sources:        sources,
		Model:          s.embedder.ModelID(),
		Dimensions:     s.embedder.Dimensions(),
		IndexPath:      s.location,
		DiskUsageBytes: usage,
	}, nil
}

// Close closes the store and its in-memory index. The embedder is owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.index.Close()
	return s.storage.Close()
}
