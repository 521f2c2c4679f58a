// Package config provides configuration loading and structs for kioku.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformedChunkConfig is returned when chunk size and overlap cannot produce
// bounded, progressing chunks (non-positive size, negative overlap, or
// overlap not smaller than size).
var ErrMalformedChunkConfig = errors.New("malformed chunk config")

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Vault     VaultConfig     `yaml:"vault"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the locations of the persisted indices.
type StorageConfig struct {
	// IndexPath is the directory holding the passage store (index.db).
	IndexPath string `yaml:"index_path"`
	// KeywordIndexPath is the Bleve index directory. Empty disables keyword search.
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// Embedding providers.
const (
	ProviderMock   = "mock"
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
)

// EmbeddingConfig selects and configures the embedding capability.
type EmbeddingConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	ModelPath    string `yaml:"model_path"`
	Dimensions   int    `yaml:"dimensions"`
	MaxTokens    int    `yaml:"max_tokens"`
	CacheSize    int    `yaml:"cache_size"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// ChunkingConfig bounds passage size. Sizes are measured in characters.
type ChunkingConfig struct {
	MaxSize int `yaml:"max_size"`
	Overlap int `yaml:"overlap"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultTopK      int     `yaml:"default_top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	DefaultThreshold float64 `yaml:"default_threshold"`
	// Weights for hybrid mode; they are applied to scores already in [0, 1].
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	// Fuzziness is the edit distance tolerated per term in keyword mode. Zero disables it.
	Fuzziness int `yaml:"fuzziness"`
}

// VaultConfig describes the transcript directory.
type VaultConfig struct {
	Path        string   `yaml:"path"`
	Extensions  []string `yaml:"extensions"`
	Exclude     []string `yaml:"exclude"`
	ReadWorkers int      `yaml:"read_workers"`
}

// WatchConfig holds vault watch settings.
type WatchConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

// Validate reports configuration errors that would make indexing impossible.
func (c *Config) Validate() error {
	if err := ValidateChunking(c.Chunking.MaxSize, c.Chunking.Overlap); err != nil {
		return err
	}
	switch c.Embedding.Provider {
	case ProviderMock, ProviderONNX, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

// ValidateChunking checks a chunk size and overlap pair.
func ValidateChunking(maxSize, overlap int) error {
	if maxSize <= 0 {
		return fmt.Errorf("%w: max_size must be positive, got %d", ErrMalformedChunkConfig, maxSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrMalformedChunkConfig, overlap)
	}
	if maxSize <= overlap {
		return fmt.Errorf("%w: max_size %d must exceed overlap %d", ErrMalformedChunkConfig, maxSize, overlap)
	}
	return nil
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ExpandPaths(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// ExpandPaths resolves every path setting in cfg against configDir.
func ExpandPaths(cfg *Config, configDir string) {
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Vault.Path = expandPath(cfg.Vault.Path, configDir)
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = strings.TrimPrefix(path, "~/")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
