package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
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
storage:
  data_dir: "/tmp/shiryo"
embedding:
  provider: mock
  timeout: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DataDir != "/tmp/shiryo" {
		t.Errorf("data_dir = %s", cfg.Storage.DataDir)
	}
	if cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.Embedding.Timeout)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(filepath.Dir(path), "data")
	if cfg.Storage.DataDir != want {
		t.Errorf("data_dir = %s, want %s", cfg.Storage.DataDir, want)
	}
}

func TestLoad_tildeExpandsToHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := writeConfig(t, `
storage:
  data_dir: "~/shiryo-data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, "shiryo-data"); cfg.Storage.DataDir != want {
		t.Errorf("data_dir = %s, want %s", cfg.Storage.DataDir, want)
	}
}

func TestLoad_overlapNotLessThanSizeFails(t *testing.T) {
	path := writeConfig(t, `
chunking:
  chunk_size: 100
  chunk_overlap: 100
`)
	_, err := Load(path)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoad_explicitZeroOverlapKept(t *testing.T) {
	path := writeConfig(t, `
chunking:
  chunk_size: 100
  chunk_overlap: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunking.Overlap() != 0 {
		t.Errorf("overlap = %d, want 0", cfg.Chunking.Overlap())
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Chunking.ChunkSize != 900 || cfg.Chunking.Overlap() != 150 {
		t.Errorf("default chunking: size=%d overlap=%d", cfg.Chunking.ChunkSize, cfg.Chunking.Overlap())
	}
	if cfg.Retrieval.DefaultK != 5 {
		t.Errorf("default k: got %d", cfg.Retrieval.DefaultK)
	}
	if cfg.Embedding.BatchSize != 64 {
		t.Errorf("default batch size: got %d", cfg.Embedding.BatchSize)
	}
	if cfg.Embedding.Provider != ProviderOllama || cfg.Embedding.BaseURL == "" {
		t.Errorf("default provider: %+v", cfg.Embedding)
	}
	if cfg.Storage.KeepGenerations != 2 {
		t.Errorf("keep generations: got %d", cfg.Storage.KeepGenerations)
	}
	if len(cfg.Watch.Extensions) != 5 || cfg.Watch.Extensions[0] != ".pdf" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_openAIProvider(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{Provider: ProviderOpenAI}}
	ApplyDefaults(cfg)
	if cfg.Embedding.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("api_key_env = %q", cfg.Embedding.APIKeyEnv)
	}
	if cfg.Embedding.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("base_url = %q", cfg.Embedding.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "word2vec" }},
		{"negative overlap", func(c *Config) { o := -1; c.Chunking.ChunkOverlap = &o }},
		{"default k above max", func(c *Config) { c.Retrieval.DefaultK = 60 }},
		{"negative rate", func(c *Config) { c.Embedding.RequestsPerSecond = -2 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			if err := Validate(cfg); !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestValidateChunking(t *testing.T) {
	if err := ValidateChunking(900, 150); err != nil {
		t.Errorf("900/150 should be valid: %v", err)
	}
	if err := ValidateChunking(10, 0); err != nil {
		t.Errorf("10/0 should be valid: %v", err)
	}
	for _, c := range [][2]int{{0, 0}, {10, 10}, {10, 11}, {10, -1}} {
		if err := ValidateChunking(c[0], c[1]); !errors.Is(err, models.ErrConfiguration) {
			t.Errorf("ValidateChunking(%d, %d) = %v, want ErrConfiguration", c[0], c[1], err)
		}
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DataDir: "/tmp/shiryo"},
	}
	ApplyDefaults(cfg)
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
	if loaded.Embedding.Timeout != 30*time.Second {
		t.Errorf("loaded timeout: got %v", loaded.Embedding.Timeout)
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if cfg.Chunking.ChunkSize != DefaultChunkSize {
		t.Errorf("chunk size = %d, want %d", cfg.Chunking.ChunkSize, DefaultChunkSize)
	}
	if !filepath.IsAbs(cfg.Storage.DataDir) {
		t.Errorf("data dir %q is not absolute", cfg.Storage.DataDir)
	}
}
