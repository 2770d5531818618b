package config

import "time"

const (
	DefaultChunkSize       = 900
	DefaultChunkOverlap    = 150
	DefaultK               = 5
	DefaultMaxK            = 50
	DefaultHandleCacheSize = 8
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "~/.local/share/shiryo"
	}
	if cfg.Storage.DefaultStore == "" {
		cfg.Storage.DefaultStore = "default"
	}
	if cfg.Storage.KeepGenerations == 0 {
		cfg.Storage.KeepGenerations = 2
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = DefaultChunkSize
	}
	// Overlap 0 is a valid explicit choice, so only nil is defaulted.
	if cfg.Chunking.ChunkOverlap == nil {
		o := DefaultChunkOverlap
		cfg.Chunking.ChunkOverlap = &o
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOllama
	}
	switch cfg.Embedding.Provider {
	case ProviderOllama:
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "all-minilm"
		}
		if cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = "http://localhost:11434"
		}
	case ProviderOpenAI:
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "text-embedding-3-small"
		}
		if cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedding.APIKeyEnv == "" {
			cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
		}
	case ProviderONNX:
		if cfg.Embedding.ModelPath == "" {
			cfg.Embedding.ModelPath = "/usr/local/var/shiryo/models/all-MiniLM-L6-v2.onnx"
		}
		if cfg.Embedding.ONNXOutput == "" {
			cfg.Embedding.ONNXOutput = "last_hidden_state"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = DefaultK
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = DefaultMaxK
	}
	if cfg.Retrieval.HandleCacheSize == 0 {
		cfg.Retrieval.HandleCacheSize = DefaultHandleCacheSize
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".txt", ".md", ".docx", ".xlsx"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}
