package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

// keywordPageSize is the page size used when rebuilding the keyword index from the store.
const keywordPageSize = 1000

// Indexer keeps the passage store (and the optional keyword index) in sync with a vault.
// Runs are serialized.
type Indexer struct {
	loader       *Loader
	store        *vector.Store
	keywordIndex keyword.KeywordIndex
	progress     vector.EmbedProgress
	logger       *zap.Logger
	runMu        sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file indexed, source removed, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithKeywordIndex keeps a keyword index in sync after each committed change.
func WithKeywordIndex(k keyword.KeywordIndex) IndexerOption {
	return func(idx *Indexer) { idx.keywordIndex = k }
}

// WithEmbedProgress reports embedding progress during IndexVault.
func WithEmbedProgress(p vector.EmbedProgress) IndexerOption {
	return func(idx *Indexer) { idx.progress = p }
}

// NewIndexer creates an indexer that loads transcripts with loader into store.
func NewIndexer(loader *Loader, store *vector.Store, opts ...IndexerOption) *Indexer {
	idx := &Indexer{loader: loader, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexVault brings the index up to date with vault. Files whose modification
// time and size match the recorded source are skipped unless force is set;
// sources that disappeared from the vault are removed. If the vault yields no
// passages at all, it fails with an error wrapping vector.ErrEmptyInsert.
// Stats are returned even when err is non-nil.
func (idx *Indexer) IndexVault(ctx context.Context, vault string, force bool) (*models.IndexStats, error) {
	idx.runMu.Lock()
	defer idx.runMu.Unlock()

	start := time.Now()
	stats := &models.IndexStats{}
	defer func() { stats.Duration = time.Since(start) }()

	abs, err := CheckVault(vault)
	if err != nil {
		return stats, err
	}
	files, err := idx.loader.Files(abs)
	if err != nil {
		return stats, err
	}
	stats.Files = len(files)

	recorded, err := idx.store.Sources(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to read sources: %w", err)
	}

	present := make(map[string]bool, len(files))
	stamps := make(map[string]fileid.Stamp, len(files))
	var changed []string
	for _, path := range files {
		present[path] = true
		info, err := os.Stat(path)
		if err != nil {
			// loaded below so the failure surfaces as a warning
			changed = append(changed, path)
			continue
		}
		stamps[path] = fileid.StampOf(info)
		if rec, ok := recorded[path]; ok && !force && !stamps[path].Changed(rec.Stamp) {
			stats.FilesUnchanged++
			continue
		}
		changed = append(changed, path)
	}

	var gone []string
	for path := range recorded {
		if filepath.Dir(path) == abs && !present[path] {
			gone = append(gone, path)
		}
	}
	if len(gone) > 0 {
		removed, err := idx.store.DeleteSources(ctx, gone)
		if err != nil {
			return stats, err
		}
		stats.FilesRemoved = len(gone)
		idx.syncKeyword(ctx, removed, nil)
		idx.logger.Debug("Removed deleted transcripts", zap.Strings("paths", gone), zap.Int("passages", len(removed)))
	}

	res, err := idx.loader.LoadFiles(ctx, changed)
	if err != nil {
		return stats, err
	}
	stats.FilesSkipped = len(res.Warnings)
	stats.Warnings = res.Warnings
	stats.Turns = res.Turns
	stats.Passages = len(res.Passages)

	if len(res.Passages) == 0 && stats.FilesUnchanged == 0 {
		return stats, fmt.Errorf("%w: no passages found in %s", vector.ErrEmptyInsert, abs)
	}

	if len(res.Loaded) > 0 {
		sources := sourceRecords(res, stamps)
		removed, err := idx.store.Replace(ctx, sources, res.Passages, idx.progress)
		if err != nil {
			return stats, err
		}
		idx.syncKeyword(ctx, removed, res.Passages)
	}
	idx.rebuildKeywordIfStale(ctx)

	idx.logger.Debug("Vault indexed",
		zap.String("vault", abs),
		zap.Int("files", stats.Files),
		zap.Int("unchanged", stats.FilesUnchanged),
		zap.Int("skipped", stats.FilesSkipped),
		zap.Int("removed", stats.FilesRemoved),
		zap.Int("passages", stats.Passages))
	return stats, nil
}

// sourceRecords builds one source row per loaded file, including files that produced no passages.
func sourceRecords(res *LoadResult, stamps map[string]fileid.Stamp) []storage.SourceRecord {
	counts := make(map[string]int, len(res.Loaded))
	for _, p := range res.Passages {
		counts[p.Metadata.SourcePath]++
	}
	sources := make([]storage.SourceRecord, len(res.Loaded))
	for i, path := range res.Loaded {
		sources[i] = storage.SourceRecord{
			ID:       fileid.SourceID(path),
			Path:     path,
			Stamp:    stamps[path],
			Passages: counts[path],
		}
	}
	return sources
}

// IndexFile reindexes a single transcript, replacing its previous passages.
// Files the loader does not accept are ignored.
func (idx *Indexer) IndexFile(ctx context.Context, path string) error {
	idx.runMu.Lock()
	defer idx.runMu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	if !idx.loader.Accepts(absPath) {
		return nil
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return &FileReadError{Path: absPath, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	passages, _, err := idx.loader.LoadFile(ctx, absPath)
	if err != nil {
		return err
	}
	src := storage.SourceRecord{
		ID:       fileid.SourceID(absPath),
		Path:     absPath,
		Stamp:    fileid.StampOf(info),
		Passages: len(passages),
	}
	removed, err := idx.store.Replace(ctx, []storage.SourceRecord{src}, passages, nil)
	if err != nil {
		return err
	}
	idx.syncKeyword(ctx, removed, passages)
	idx.logger.Debug("Transcript indexed", zap.String("path", absPath), zap.Int("passages", len(passages)))
	return nil
}

// RemoveFile removes a transcript's passages from the index.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	idx.runMu.Lock()
	defer idx.runMu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	removed, err := idx.store.DeleteSource(ctx, absPath)
	if err != nil {
		return err
	}
	idx.syncKeyword(ctx, removed, nil)
	idx.logger.Debug("Transcript removed", zap.String("path", absPath), zap.Int("passages", len(removed)))
	return nil
}

// syncKeyword mirrors a committed store change into the keyword index.
// Failures are logged and not returned.
func (idx *Indexer) syncKeyword(ctx context.Context, removed []string, added []models.Passage) {
	if idx.keywordIndex == nil {
		return
	}
	if len(removed) > 0 {
		if err := idx.keywordIndex.Delete(ctx, removed); err != nil {
			idx.logger.Warn("Keyword index delete failed", zap.Error(err))
		}
	}
	if len(added) > 0 {
		if err := idx.keywordIndex.Index(ctx, added); err != nil {
			idx.logger.Warn("Keyword index update failed", zap.Error(err))
		}
	}
}

// rebuildKeywordIfStale repopulates the keyword index from the store when their
// sizes disagree, e.g. after the keyword index was deleted or newly configured.
func (idx *Indexer) rebuildKeywordIfStale(ctx context.Context) {
	if idx.keywordIndex == nil {
		return
	}
	count, err := idx.keywordIndex.DocCount()
	if err != nil || int(count) >= idx.store.Size() {
		return
	}
	idx.logger.Debug("Rebuilding keyword index", zap.Uint64("keyword_docs", count), zap.Int("passages", idx.store.Size()))
	for offset := 0; ; offset += keywordPageSize {
		page, err := idx.store.ListPassages(ctx, offset, keywordPageSize)
		if err != nil {
			idx.logger.Warn("Keyword rebuild failed", zap.Error(err))
			return
		}
		if len(page) == 0 {
			return
		}
		if err := idx.keywordIndex.Index(ctx, page); err != nil {
			idx.logger.Warn("Keyword rebuild failed", zap.Error(err))
			return
		}
	}
}

// IsEmptyVault reports whether err means indexing found nothing to insert.
func IsEmptyVault(err error) bool {
	return errors.Is(err, vector.ErrEmptyInsert)
}
