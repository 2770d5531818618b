package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
)

// New creates the embedder selected by cfg.Provider, wrapped in an LRU cache when cfg.CacheSize > 0.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case config.ProviderMock:
		e = NewMockEmbedder(cfg.Dimensions)
	case config.ProviderOllama:
		e = NewOllamaEmbedder(OllamaConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case config.ProviderOpenAI:
		e, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			APIKeyEnv:         cfg.APIKeyEnv,
			Dimensions:        cfg.Dimensions,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case config.ProviderONNX:
		e, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
			BatchSize:  cfg.BatchSize,
			OutputName: cfg.ONNXOutput,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrConfiguration, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.Provider, err)
	}
	if logger != nil {
		logger.Info("embedder ready",
			zap.String("model", e.ModelID()),
			zap.Int("dimensions", e.Dimensions()),
			zap.Int("cache_size", cfg.CacheSize))
	}
	if cfg.CacheSize <= 0 {
		return e, nil
	}
	cached, err := NewCachedEmbedder(e, cfg.CacheSize)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return cached, nil
}
