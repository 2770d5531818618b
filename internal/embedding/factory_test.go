package embedding

import (
	"errors"
	"testing"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
)

func TestNew(t *testing.T) {
	t.Run("mock with cache", func(t *testing.T) {
		e, err := New(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 32, CacheSize: 10}, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer e.Close()
		if _, ok := e.(*CachedEmbedder); !ok {
			t.Errorf("expected *CachedEmbedder, got %T", e)
		}
		if e.Dimensions() != 32 || e.ModelID() != "mock:32" {
			t.Errorf("dims=%d model=%s", e.Dimensions(), e.ModelID())
		}
	})
	t.Run("mock without cache", func(t *testing.T) {
		e, err := New(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 8}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := e.(*MockEmbedder); !ok {
			t.Errorf("expected *MockEmbedder, got %T", e)
		}
	})
	t.Run("openai without key", func(t *testing.T) {
		t.Setenv("SHIRYO_MISSING_KEY", "")
		_, err := New(config.EmbeddingConfig{Provider: config.ProviderOpenAI, APIKeyEnv: "SHIRYO_MISSING_KEY"}, nil)
		if !errors.Is(err, models.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})
	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(config.EmbeddingConfig{Provider: "bogus"}, nil)
		if !errors.Is(err, models.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})
}
