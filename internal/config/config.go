// Package config provides configuration loading and structs for the Shiryo server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the data directory layout and generation retention.
type StorageConfig struct {
	DataDir         string `yaml:"data_dir"`
	DefaultStore    string `yaml:"default_store"`
	KeepGenerations int    `yaml:"keep_generations"`
}

// ChunkingConfig holds the word-window policy.
type ChunkingConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap *int `yaml:"chunk_overlap"`
}

// Overlap returns the configured overlap; defaults to 150 when unset.
func (c *ChunkingConfig) Overlap() int {
	if c.ChunkOverlap != nil {
		return *c.ChunkOverlap
	}
	return DefaultChunkOverlap
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Dimensions        int           `yaml:"dimensions"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"`
	ModelPath         string        `yaml:"model_path"`
	MaxTokens         int           `yaml:"max_tokens"`
	ONNXOutput        string        `yaml:"onnx_output"`
}

// RetrievalConfig holds top-k policy and the loaded-store cache size.
type RetrievalConfig struct {
	DefaultK        int `yaml:"default_k"`
	MaxK            int `yaml:"max_k"`
	HandleCacheSize int `yaml:"handle_cache_size"`
}

// WatchConfig holds papers-directory watch settings.
type WatchConfig struct {
	Extensions []string      `yaml:"extensions"`
	Debounce   time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, applies defaults, expands paths, and validates.
// Returns an error if the file cannot be read or parsed, or if validation fails.
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

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() (*Config, error) {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, ".")
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
