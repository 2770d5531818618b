package config

import (
	"fmt"

	"github.com/hyperjump/shiryo/internal/models"
)

// Embedding provider names.
const (
	ProviderMock   = "mock"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
)

// Validate checks cfg after defaults are applied. All failures wrap models.ErrConfiguration.
func Validate(cfg *Config) error {
	if err := ValidateChunking(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap()); err != nil {
		return err
	}
	if cfg.Storage.KeepGenerations < 1 {
		return fmt.Errorf("%w: storage.keep_generations must be at least 1", models.ErrConfiguration)
	}
	switch cfg.Embedding.Provider {
	case ProviderMock, ProviderOllama, ProviderOpenAI, ProviderONNX:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", models.ErrConfiguration, cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimensions < 0 || cfg.Embedding.BatchSize < 0 || cfg.Embedding.CacheSize < 0 {
		return fmt.Errorf("%w: embedding sizes must not be negative", models.ErrConfiguration)
	}
	if cfg.Embedding.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: embedding.requests_per_second must not be negative", models.ErrConfiguration)
	}
	if cfg.Retrieval.DefaultK < 1 || cfg.Retrieval.MaxK < 1 {
		return fmt.Errorf("%w: retrieval k values must be positive", models.ErrConfiguration)
	}
	if cfg.Retrieval.DefaultK > cfg.Retrieval.MaxK {
		return fmt.Errorf("%w: retrieval.default_k (%d) exceeds retrieval.max_k (%d)",
			models.ErrConfiguration, cfg.Retrieval.DefaultK, cfg.Retrieval.MaxK)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range: %d", models.ErrConfiguration, cfg.Server.Port)
	}
	return nil
}

// ValidateChunking rejects window parameters that could not advance.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", models.ErrConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", models.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk_overlap (%d) must be less than chunk_size (%d)", models.ErrConfiguration, overlap, size)
	}
	return nil
}
