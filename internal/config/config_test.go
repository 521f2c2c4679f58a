package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
embedding:
  provider: mock
chunking:
  max_size: 200
  overlap: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Chunking.MaxSize != 200 || cfg.Chunking.Overlap != 20 {
		t.Errorf("chunking: got %+v", cfg.Chunking)
	}
	if cfg.Embedding.Provider != ProviderMock {
		t.Errorf("provider: got %q", cfg.Embedding.Provider)
	}
	if cfg.Storage.IndexPath == "" {
		t.Error("index_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  index_path: "./data/index"
vault:
  path: "./vault"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "index"); cfg.Storage.IndexPath != want {
		t.Errorf("index_path = %s, want %s", cfg.Storage.IndexPath, want)
	}
	if want := filepath.Join(dir, "vault"); cfg.Vault.Path != want {
		t.Errorf("vault path = %s, want %s", cfg.Vault.Path, want)
	}
	if cfg.Storage.KeywordIndexPath != "" {
		t.Errorf("unset keyword_index_path should stay empty, got %s", cfg.Storage.KeywordIndexPath)
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: got %+v", cfg.Server)
	}
	if cfg.Chunking.MaxSize != 500 || cfg.Chunking.Overlap != 50 {
		t.Errorf("default chunking: got %+v", cfg.Chunking)
	}
	if cfg.Search.DefaultTopK != 5 {
		t.Errorf("default top_k: got %d", cfg.Search.DefaultTopK)
	}
	if cfg.Search.DefaultThreshold != 0 {
		t.Errorf("default threshold: got %f", cfg.Search.DefaultThreshold)
	}
	if cfg.Search.KeywordWeight != 0.3 || cfg.Search.SemanticWeight != 0.7 {
		t.Errorf("hybrid weights: got %+v", cfg.Search)
	}
	if len(cfg.Vault.Extensions) != 1 || cfg.Vault.Extensions[0] != ".md" {
		t.Errorf("vault extensions: got %v", cfg.Vault.Extensions)
	}
	if cfg.Embedding.Model != DefaultModel || cfg.Embedding.Dimensions != 384 {
		t.Errorf("embedding defaults: got %+v", cfg.Embedding)
	}
}

func TestApplyDefaults_openAIDimensions(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{Provider: ProviderOpenAI}}
	ApplyDefaults(cfg)
	if cfg.Embedding.Model != "text-embedding-3-small" || cfg.Embedding.Dimensions != 1536 {
		t.Errorf("openai defaults: got %+v", cfg.Embedding)
	}
}

func TestApplyDefaults_explicitSizeKeepsZeroOverlap(t *testing.T) {
	cfg := &Config{Chunking: ChunkingConfig{MaxSize: 30}}
	ApplyDefaults(cfg)
	if cfg.Chunking.Overlap != 0 {
		t.Errorf("overlap should stay 0 when max_size is explicit, got %d", cfg.Chunking.Overlap)
	}
}

func TestValidateChunking(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"defaults", 500, 50, false},
		{"no overlap", 10, 0, false},
		{"overlap equals size", 50, 50, true},
		{"overlap exceeds size", 10, 20, true},
		{"zero size", 0, 0, true},
		{"negative size", -5, 0, true},
		{"negative overlap", 10, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunking(tt.size, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateChunking(%d, %d) error = %v, wantErr %v", tt.size, tt.overlap, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedChunkConfig) {
				t.Errorf("error should wrap ErrMalformedChunkConfig: %v", err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.Embedding.Provider = "telepathy"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown provider should fail validation")
	}
	cfg = Default()
	cfg.Chunking.Overlap = cfg.Chunking.MaxSize
	if err := cfg.Validate(); !errors.Is(err, ErrMalformedChunkConfig) {
		t.Errorf("expected ErrMalformedChunkConfig, got %v", err)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Storage.IndexPath = "/tmp/kioku-index"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Storage.IndexPath != "/tmp/kioku-index" {
		t.Errorf("loaded index path: got %s", loaded.Storage.IndexPath)
	}
}
