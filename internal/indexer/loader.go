package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// ErrDirectoryNotFound is returned when the vault directory does not exist or is not a directory.
var ErrDirectoryNotFound = errors.New("vault directory not found")

// ErrInvalidEncoding marks a transcript that is not valid UTF-8.
var ErrInvalidEncoding = errors.New("transcript is not valid UTF-8")

// FileReadError reports a transcript that could not be read or decoded.
// It is non-fatal: the file is skipped and loading continues.
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("read transcript %s: %v", e.Path, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// ProgressReporter receives one Increment per transcript processed.
type ProgressReporter interface {
	Start(total int)
	Increment()
	Finish()
}

// Loader enumerates a vault and converts each transcript into passages.
type Loader struct {
	chunker    *Chunker
	extensions []string
	exclude    []string
	workers    int
	progress   ProgressReporter
	logger     *zap.Logger // optional; when set, logs debug events
	newID      func() string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithExtensions sets the transcript extensions (case-insensitive, with or without dot).
func WithExtensions(exts []string) LoaderOption {
	return func(l *Loader) { l.extensions = exts }
}

// WithExclude sets doublestar glob patterns matched against file names.
func WithExclude(patterns []string) LoaderOption {
	return func(l *Loader) { l.exclude = patterns }
}

// WithReadWorkers sets how many transcripts are read and chunked in parallel.
func WithReadWorkers(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithLoaderProgress reports per-file progress.
func WithLoaderProgress(p ProgressReporter) LoaderOption {
	return func(l *Loader) { l.progress = p }
}

// WithLoaderLogger sets a logger for debug output.
func WithLoaderLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader that chunks turns with chunker. By default it
// reads ".md" files with one worker.
func NewLoader(chunker *Chunker, opts ...LoaderOption) *Loader {
	l := &Loader{
		chunker:    chunker,
		extensions: []string{".md"},
		workers:    1,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadResult is the outcome of loading a set of transcripts. Passages are in
// file name order, then turn order, then chunk order. Loaded lists the files
// that were read successfully; unreadable files appear only in Warnings.
type LoadResult struct {
	Passages []models.Passage
	Warnings []models.Warning
	Loaded   []string
	Turns    int
}

// CheckVault resolves vault to an absolute directory path, or fails with ErrDirectoryNotFound.
func CheckVault(vault string) (string, error) {
	abs, err := filepath.Abs(vault)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrDirectoryNotFound, abs)
		}
		return "", fmt.Errorf("stat vault: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, abs)
	}
	return abs, nil
}

// Files lists the transcripts directly inside vault, sorted by name.
// Subdirectories are not descended into.
func (l *Loader) Files(vault string) ([]string, error) {
	abs, err := CheckVault(vault)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !l.Accepts(entry.Name()) {
			continue
		}
		path := filepath.Join(abs, entry.Name())
		// Resolve symlinks so we only load regular files
		info, statErr := os.Stat(path)
		if statErr != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

// Accepts reports whether a file name has a transcript extension and is not excluded.
func (l *Loader) Accepts(name string) bool {
	base := filepath.Base(name)
	if len(l.extensions) > 0 && !extensionAllowed(filepath.Ext(base), l.extensions) {
		return false
	}
	for _, pattern := range l.exclude {
		if matched, _ := doublestar.Match(pattern, base); matched {
			if l.logger != nil {
				l.logger.Debug("loader file excluded by pattern", zap.String("file", base), zap.String("pattern", pattern))
			}
			return false
		}
	}
	return true
}

// Load reads every transcript in vault. An empty vault yields an empty result, not an error.
func (l *Loader) Load(ctx context.Context, vault string) (*LoadResult, error) {
	files, err := l.Files(vault)
	if err != nil {
		return nil, err
	}
	return l.LoadFiles(ctx, files)
}

type fileOutcome struct {
	passages []models.Passage
	turns    int
	err      error
}

// LoadFiles reads the given transcripts in parallel and assembles the result in
// the order of paths.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) (*LoadResult, error) {
	outcomes := make([]fileOutcome, len(paths))
	if l.progress != nil {
		l.progress.Start(len(paths))
		defer l.progress.Finish()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := l.workers
	if workers > len(paths) {
		workers = len(paths)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				passages, turns, err := l.LoadFile(ctx, paths[i])
				outcomes[i] = fileOutcome{passages: passages, turns: turns, err: err}
				if l.progress != nil {
					l.progress.Increment()
				}
			}
		}()
	}
feed:
	for i := range paths {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &LoadResult{}
	for i, out := range outcomes {
		if out.err != nil {
			var readErr *FileReadError
			if !errors.As(out.err, &readErr) {
				return nil, out.err
			}
			if l.logger != nil {
				l.logger.Warn("skipping unreadable transcript", zap.String("path", paths[i]), zap.Error(readErr.Err))
			}
			res.Warnings = append(res.Warnings, models.Warning{Path: paths[i], Message: readErr.Error()})
			continue
		}
		res.Passages = append(res.Passages, out.passages...)
		res.Turns += out.turns
		res.Loaded = append(res.Loaded, paths[i])
	}
	return res, nil
}

// LoadFile converts one transcript into passages. Read and decode failures are
// returned as *FileReadError. It also returns the number of turns parsed.
func (l *Loader) LoadFile(ctx context.Context, path string) ([]models.Passage, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, 0, &FileReadError{Path: path, Err: err}
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, 0, &FileReadError{Path: absPath, Err: err}
	}
	if !utf8.Valid(data) {
		return nil, 0, &FileReadError{Path: absPath, Err: ErrInvalidEncoding}
	}

	turns := ParseTurns(string(data))
	filename := filepath.Base(absPath)
	var passages []models.Passage
	for _, turn := range turns {
		chunks := l.chunker.Split(turn.Text)
		for j, chunk := range chunks {
			passages = append(passages, models.Passage{
				ID:   l.newID(),
				Text: chunk,
				Metadata: models.PassageMetadata{
					SourcePath: absPath,
					Filename:   filename,
					Speaker:    turn.Speaker,
					TurnIndex:  turn.TurnIndex,
					ChunkIndex: j,
					ChunkCount: len(chunks),
				},
			})
		}
	}
	if l.logger != nil {
		l.logger.Debug("loader transcript loaded",
			zap.String("path", absPath),
			zap.Int("turns", len(turns)),
			zap.Int("passages", len(passages)))
	}
	return passages, len(turns), nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
