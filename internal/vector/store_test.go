package vector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// failingEmbedder fails on any text containing "boom".
type failingEmbedder struct {
	*embedding.MockEmbedder
}

func (f failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "boom") {
			return nil, errors.New("embedding backend unavailable")
		}
	}
	return f.MockEmbedder.EmbedBatch(ctx, texts)
}

func passage(id, source, text string) models.Passage {
	return models.Passage{
		ID:   id,
		Text: text,
		Metadata: models.PassageMetadata{
			SourcePath: source,
			Filename:   filepath.Base(source),
			Speaker:    models.SpeakerAssistant,
			ChunkCount: 1,
		},
	}
}

func newTestStore(t *testing.T, e embedding.Embedder) (*Store, string) {
	t.Helper()
	loc := filepath.Join(t.TempDir(), "index")
	s, err := CreateOrOpen(context.Background(), loc, e, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, loc
}

func TestOpen_notFound(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing"), embedding.NewMockEmbedder(16))
	if !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestCreateOrOpen_idempotentAndPersistent(t *testing.T) {
	ctx := context.Background()
	e := embedding.NewMockEmbedder(64)
	s, loc := newTestStore(t, e)
	if err := s.BulkInsert(ctx, []models.Passage{
		passage("p1", "/v/a.md", "python decorators wrap functions"),
		passage("p2", "/v/a.md", "sourdough starter needs feeding"),
	}, nil); err != nil {
		t.Fatal(err)
	}
	s.Close()

	for i := 0; i < 2; i++ {
		reopened, err := CreateOrOpen(ctx, loc, e)
		if err != nil {
			t.Fatal(err)
		}
		if reopened.Size() != 2 {
			t.Errorf("reopen %d: Size = %d, want 2", i, reopened.Size())
		}
		results, err := reopened.Query(ctx, "python decorators", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].Passage.ID != "p1" {
			t.Errorf("reopen %d: query after reopen = %+v", i, results)
		}
		reopened.Close()
	}

	opened, err := Open(ctx, loc, e)
	if err != nil {
		t.Fatal(err)
	}
	opened.Close()
}

func TestOpen_modelMismatch(t *testing.T) {
	ctx := context.Background()
	_, loc := newTestStore(t, embedding.NewMockEmbedder(16))

	_, err := Open(ctx, loc, embedding.NewMockEmbedder(16).WithModelID("other-model"))
	if !errors.Is(err, ErrEmbeddingModelMismatch) {
		t.Errorf("model change: expected ErrEmbeddingModelMismatch, got %v", err)
	}
	_, err = CreateOrOpen(ctx, loc, embedding.NewMockEmbedder(32))
	if !errors.Is(err, ErrEmbeddingModelMismatch) {
		t.Errorf("dimension change: expected ErrEmbeddingModelMismatch, got %v", err)
	}
}

func TestBulkInsert_empty(t *testing.T) {
	s, _ := newTestStore(t, embedding.NewMockEmbedder(16))
	if err := s.BulkInsert(context.Background(), nil, nil); !errors.Is(err, ErrEmptyInsert) {
		t.Errorf("expected ErrEmptyInsert, got %v", err)
	}
}

func TestBulkInsert_atomicOnEmbedFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, failingEmbedder{embedding.NewMockEmbedder(16)})
	if err := s.BulkInsert(ctx, []models.Passage{passage("ok", "/v/a.md", "fine text")}, nil); err != nil {
		t.Fatal(err)
	}

	batch := make([]models.Passage, 0, embedBatchSize+1)
	for i := 0; i < embedBatchSize; i++ {
		batch = append(batch, passage(fmt.Sprintf("n%d", i), "/v/b.md", "new text"))
	}
	batch = append(batch, passage("bad", "/v/b.md", "boom"))
	if err := s.BulkInsert(ctx, batch, nil); err == nil {
		t.Fatal("expected embedding failure")
	}
	if s.Size() != 1 {
		t.Errorf("memory index changed: Size = %d", s.Size())
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Passages != 1 {
		t.Errorf("store changed: %d passages", stats.Passages)
	}
}

func TestBulkInsert_atomicOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, embedding.NewMockEmbedder(16))
	if err := s.BulkInsert(ctx, []models.Passage{passage("dup", "/v/a.md", "first")}, nil); err != nil {
		t.Fatal(err)
	}
	err := s.BulkInsert(ctx, []models.Passage{
		passage("fresh", "/v/b.md", "second"),
		passage("dup", "/v/b.md", "third"),
	}, nil)
	if err == nil {
		t.Fatal("expected duplicate ID failure")
	}
	if s.Size() != 1 {
		t.Errorf("memory index changed: Size = %d", s.Size())
	}
}

func TestQuery_orderAndBounds(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, embedding.NewMockEmbedder(256))

	results, err := s.Query(ctx, "anything", 5)
	if err != nil || len(results) != 0 {
		t.Fatalf("empty index: %v, %v", results, err)
	}

	if err := s.BulkInsert(ctx, []models.Passage{
		passage("a", "/v/a.md", "kubernetes pods restart"),
		passage("b", "/v/a.md", "python decorators explained simply"),
		passage("c", "/v/b.md", "python decorators"),
		passage("d", "/v/b.md", "python decorators"),
	}, nil); err != nil {
		t.Fatal(err)
	}
	results, err = s.Query(ctx, "python decorators", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	// c and d tie; insertion order decides
	if results[0].Passage.ID != "c" || results[1].Passage.ID != "d" {
		t.Errorf("tie order: %s, %s", results[0].Passage.ID, results[1].Passage.ID)
	}
	for i, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score out of range: %f", r.Score)
		}
		if i > 0 && r.Score > results[i-1].Score {
			t.Error("scores not descending")
		}
	}
	if results[0].Passage.Metadata.Filename != "b.md" || results[0].Passage.Metadata.Speaker != models.SpeakerAssistant {
		t.Errorf("metadata not hydrated: %+v", results[0].Passage.Metadata)
	}

	top, _ := s.Query(ctx, "python decorators", 2)
	if len(top) != 2 {
		t.Errorf("topK not applied: %d", len(top))
	}
	none, _ := s.Query(ctx, "python", 0)
	if len(none) != 0 {
		t.Error("topK 0 should return nothing")
	}
}

func TestReplaceAndDeleteSource(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, embedding.NewMockEmbedder(64))
	src := storage.SourceRecord{ID: "s", Path: "/v/a.md", Passages: 2}

	if _, err := s.Replace(ctx, []storage.SourceRecord{src}, []models.Passage{
		passage("a1", "/v/a.md", "old one"),
		passage("a2", "/v/a.md", "old two"),
	}, nil); err != nil {
		t.Fatal(err)
	}
	removed, err := s.Replace(ctx, []storage.SourceRecord{src}, []models.Passage{passage("a3", "/v/a.md", "new")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 || s.Size() != 1 {
		t.Errorf("removed=%v size=%d", removed, s.Size())
	}
	sources, _ := s.Sources(ctx)
	if _, ok := sources["/v/a.md"]; !ok {
		t.Error("source not recorded")
	}

	if _, err := s.DeleteSource(ctx, "/v/a.md"); err != nil {
		t.Fatal(err)
	}
	if s.Size() != 0 {
		t.Errorf("Size after delete = %d", s.Size())
	}
	stats, _ := s.Stats(ctx)
	if stats.Passages != 0 || stats.Sources != 0 {
		t.Errorf("stats after delete: %+v", stats)
	}
	if stats.Model != embedding.MockModelID || stats.Dimensions != 64 || stats.DiskUsageBytes <= 0 {
		t.Errorf("stats: %+v", stats)
	}
}

type countingProgress struct{ started, incs, finished int }

func (c *countingProgress) Start(total int) { c.started = total }
func (c *countingProgress) Increment()      { c.incs++ }
func (c *countingProgress) Finish()         { c.finished++ }

func TestBulkInsert_progressAndDrop(t *testing.T) {
	ctx := context.Background()
	s, loc := newTestStore(t, embedding.NewMockEmbedder(16))
	p := &countingProgress{}
	if err := s.BulkInsert(ctx, []models.Passage{passage("x", "/v/a.md", "x"), passage("y", "/v/a.md", "y")}, p); err != nil {
		t.Fatal(err)
	}
	if p.started != 2 || p.incs != 2 || p.finished != 1 {
		t.Errorf("progress = %+v", p)
	}
	if !s.Exists() {
		t.Error("Exists should be true")
	}
	s.Close()
	if err := Drop(loc); err != nil {
		t.Fatal(err)
	}
	if Exists(loc) {
		t.Error("index should be gone after Drop")
	}
}
