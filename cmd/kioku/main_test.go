package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/vector"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"sourdough starter", "-top-k", "3"},
			expected: []string{"-top-k", "3", "sourdough starter"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "3", "sourdough starter"},
			expected: []string{"-top-k", "3", "sourdough starter"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"sourdough starter"},
			expected: []string{"sourdough starter"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-mode", "keyword"},
			expected: []string{"-mode", "keyword", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"docker"}, "docker"},
		{"multiple words", []string{"docker", "networking"}, "docker networking"},
		{"single quoted phrase", []string{"docker networking"}, "docker networking"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func TestLoadConfig_prefersCwdConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, defaultConfigName)
	content := `
debug: true
storage:
  index_path: "./idx"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd kioku.yaml")
	}
	if filepath.Base(cfg.Storage.IndexPath) != "idx" || !filepath.IsAbs(cfg.Storage.IndexPath) {
		t.Errorf("index path = %s", cfg.Storage.IndexPath)
	}
}

func TestLoadConfig_defaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, resolved, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty", resolved)
	}
	if cfg.Chunking.MaxSize != 500 || cfg.Chunking.Overlap != 50 || cfg.Search.DefaultTopK != 5 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestStarterConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.yaml")
	if err := config.Save(path, starterConfig()); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("starter config invalid: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), ".kioku", "keyword")
	if cfg.Storage.KeywordIndexPath != want {
		t.Errorf("keyword path = %s, want %s", cfg.Storage.KeywordIndexPath, want)
	}
}

func TestRedact(t *testing.T) {
	if redact("") != "" || redact("sk-123") == "sk-123" {
		t.Error("redact should hide non-empty secrets only")
	}
}

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Embedding.Dimensions = 32
	cfg.Storage.IndexPath = filepath.Join(dir, "index")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "keyword")
	cfg.Vault.Path = filepath.Join(dir, "vault")
	if err := os.Mkdir(cfg.Vault.Path, 0755); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestOpenComponents_indexLifecycle(t *testing.T) {
	cfg := mockConfig(t)
	ctx := context.Background()
	logger := zap.NewNop()

	if _, err := openComponents(ctx, cfg, logger, componentOptions{}); !errors.Is(err, vector.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound before indexing, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(cfg.Vault.Path, "chat.md"), []byte("Human: hello\n\nClaude: hi there"), 0600); err != nil {
		t.Fatal(err)
	}
	c, err := openComponents(ctx, cfg, logger, componentOptions{create: true, keyword: true})
	if err != nil {
		t.Fatal(err)
	}
	stats, err := c.Indexer.IndexVault(ctx, cfg.Vault.Path, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Passages != 2 {
		t.Errorf("passages = %d", stats.Passages)
	}
	if hits, err := probe(ctx, c.Engine); err != nil || hits != 1 {
		t.Errorf("probe = %d, %v; want 1 hit", hits, err)
	}
	c.Close()

	if err := dropIndices(cfg); err != nil {
		t.Fatal(err)
	}
	if vector.Exists(cfg.Storage.IndexPath) {
		t.Error("index should be gone after dropIndices")
	}
	if _, err := os.Stat(cfg.Storage.KeywordIndexPath); !os.IsNotExist(err) {
		t.Errorf("keyword index should be gone, stat err = %v", err)
	}
}

func writeChat(t *testing.T, cfg *config.Config) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(cfg.Vault.Path, "chat.md"), []byte("Human: hello\n\nClaude: hi there"), 0600); err != nil {
		t.Fatal(err)
	}
}

func indexedPassages(t *testing.T, cfg *config.Config) int {
	t.Helper()
	c, err := openComponents(context.Background(), cfg, zap.NewNop(), componentOptions{})
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer c.Close()
	return c.Store.Size()
}

func TestBuildIndex_missingVaultKeepsExistingIndex(t *testing.T) {
	cfg := mockConfig(t)
	ctx := context.Background()
	writeChat(t, cfg)
	c, _, err := buildIndex(ctx, cfg, zap.NewNop(), componentOptions{keyword: true}, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	good := cfg.Vault.Path
	cfg.Vault.Path = filepath.Join(filepath.Dir(good), "typo")
	for _, force := range []bool{false, true} {
		if _, _, err := buildIndex(ctx, cfg, zap.NewNop(), componentOptions{keyword: true}, force, nil); !errors.Is(err, indexer.ErrDirectoryNotFound) {
			t.Fatalf("force=%v: expected ErrDirectoryNotFound, got %v", force, err)
		}
	}
	if n := indexedPassages(t, cfg); n != 2 {
		t.Errorf("existing index should be untouched, passages = %d", n)
	}
}

func TestBuildIndex_failedFirstRunLeavesNoIndex(t *testing.T) {
	cfg := mockConfig(t)
	ctx := context.Background()
	ready := 0

	missing := *cfg
	missing.Vault.Path = filepath.Join(cfg.Vault.Path, "nope")
	if _, _, err := buildIndex(ctx, &missing, zap.NewNop(), componentOptions{}, true, func() { ready++ }); !errors.Is(err, indexer.ErrDirectoryNotFound) {
		t.Fatalf("expected ErrDirectoryNotFound, got %v", err)
	}
	if vector.Exists(cfg.Storage.IndexPath) {
		t.Error("a missing vault must not create an index")
	}

	if _, _, err := buildIndex(ctx, cfg, zap.NewNop(), componentOptions{keyword: true}, false, func() { ready++ }); !errors.Is(err, vector.ErrEmptyInsert) {
		t.Fatalf("expected ErrEmptyInsert for an empty vault, got %v", err)
	}
	if vector.Exists(cfg.Storage.IndexPath) {
		t.Error("an index created by a failed run should be removed")
	}
	if _, err := openComponents(ctx, cfg, zap.NewNop(), componentOptions{}); !errors.Is(err, vector.ErrIndexNotFound) {
		t.Errorf("search after a failed first run should see ErrIndexNotFound, got %v", err)
	}
	if ready != 1 {
		t.Errorf("ready called %d times, want 1", ready)
	}
}

func TestBuildIndex_modelChange(t *testing.T) {
	cfg := mockConfig(t)
	ctx := context.Background()
	writeChat(t, cfg)
	c, _, err := buildIndex(ctx, cfg, zap.NewNop(), componentOptions{keyword: true}, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	cfg.Embedding.Dimensions = 16
	if _, _, err := buildIndex(ctx, cfg, zap.NewNop(), componentOptions{keyword: true}, false, nil); !errors.Is(err, vector.ErrEmbeddingModelMismatch) {
		t.Fatalf("expected ErrEmbeddingModelMismatch without force, got %v", err)
	}
	c, stats, err := buildIndex(ctx, cfg, zap.NewNop(), componentOptions{keyword: true}, true, nil)
	if err != nil {
		t.Fatalf("force rebuild: %v", err)
	}
	defer c.Close()
	if stats.Passages != 2 || c.Store.Size() != 2 {
		t.Errorf("rebuilt passages = %d, store size = %d", stats.Passages, c.Store.Size())
	}
}

func TestProbe_emptyIndexHasNoHits(t *testing.T) {
	cfg := mockConfig(t)
	c, err := openComponents(context.Background(), cfg, zap.NewNop(), componentOptions{create: true})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	hits, err := probe(context.Background(), c.Engine)
	if err != nil || hits != 0 {
		t.Errorf("probe = %d, %v; want 0 hits and no error", hits, err)
	}
}

func TestSearchViaHTTP_mapsServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/search":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"index not found","code":"index_not_found"}`))
		case "/api/v1/status":
			_, _ = w.Write([]byte(`{"passages":3,"sources":1,"embedding_model":"mock-32","dimensions":32}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer ts.Close()

	_, err := searchViaHTTP(ts.URL, &models.SearchQuery{Query: "x"})
	if !errors.Is(err, vector.ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
	if errors.Is(err, search.ErrInvalidQuery) {
		t.Error("error should not match ErrInvalidQuery")
	}

	status, err := statusViaHTTP(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	if status.Passages != 3 || status.Dimensions != 32 {
		t.Errorf("status = %+v", status)
	}
}
