package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	BaseURL           string
	Model             string
	Dimensions        int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// OllamaEmbedder calls the Ollama /api/embed endpoint, which accepts a batch of inputs.
type OllamaEmbedder struct {
	client     *resty.Client
	limiter    *rate.Limiter
	model      string
	dimensions int
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an embedder for a local or remote Ollama server.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &OllamaEmbedder{
		client:     client,
		limiter:    newLimiter(cfg.RequestsPerSecond),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return firstOrError(e.EmbedBatch(ctx, []string{text}))
}

// EmbedBatch embeds texts in one request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := wait(ctx, e.limiter); err != nil {
		return nil, err
	}
	var out ollamaEmbedResponse
	resp, err := e.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetBody(ollamaEmbedRequest{Model: e.model, Input: texts}).
		SetResult(&out).
		Post("/api/embed")
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode(), resp.String())
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	if err := checkDimensions(out.Embeddings, e.dimensions); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

// Ping checks that the server is reachable and the model answers.
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}

// Dimensions returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns "ollama:<model>".
func (e *OllamaEmbedder) ModelID() string {
	return "ollama:" + e.model
}

// Close is a no-op; the HTTP client holds no resources that need release.
func (e *OllamaEmbedder) Close() error {
	return nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := max(1, int(perSecond))
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func checkDimensions(vecs [][]float32, want int) error {
	for i, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("embedding %d: got dimension %d, configured %d", i, len(v), want)
		}
	}
	return nil
}
