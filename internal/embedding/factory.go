package embedding

import (
	"fmt"
	"os"

	"github.com/hyperjump/kioku/internal/config"
)

// New builds the embedder selected by cfg, wrapped in an LRU cache of
// cfg.CacheSize entries.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case config.ProviderMock:
		e = NewMockEmbedder(cfg.Dimensions)
	case config.ProviderONNX, "":
		e, err = newONNX(cfg)
	case config.ProviderOpenAI:
		key := cfg.OpenAIAPIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		e, err = NewOpenAIEmbedder(key, os.Getenv("OPENAI_BASE_URL"), cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCachedEmbedder(e, cfg.CacheSize), nil
}

func newONNX(cfg config.EmbeddingConfig) (Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("embedding.model_path is required for the onnx provider")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("ONNX model: %w", err)
	}
	e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Model, cfg.Dimensions, cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	return e, nil
}
