package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/hyperjump/shiryo/internal/models"
)

// OpenAIConfig configures an OpenAIEmbedder. The API key is read from the
// environment variable named by APIKeyEnv.
type OpenAIConfig struct {
	BaseURL           string
	Model             string
	APIKeyEnv         string
	Dimensions        int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *resty.Client
	limiter    *rate.Limiter
	model      string
	dimensions int
}

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIEmbedder creates an embedder for the OpenAI embeddings API or a compatible server.
// Returns models.ErrConfiguration when the API key variable is unset.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", models.ErrConfiguration, cfg.APIKeyEnv)
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	return &OpenAIEmbedder{
		client:     client,
		limiter:    newLimiter(cfg.RequestsPerSecond),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return firstOrError(e.EmbedBatch(ctx, []string{text}))
}

// EmbedBatch embeds texts in one request. Results are placed by their response index.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := wait(ctx, e.limiter); err != nil {
		return nil, err
	}
	body := openAIEmbedRequest{Model: e.model, Input: texts}
	// Only the text-embedding-3 family accepts a requested output size.
	if strings.HasPrefix(e.model, "text-embedding-3") {
		body.Dimensions = e.dimensions
	}
	var out openAIEmbedResponse
	var apiErr openAIErrorResponse
	resp, err := e.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return nil, fmt.Errorf("openai error (status %d): %s", resp.StatusCode(), apiErr.Error.Message)
		}
		return nil, fmt.Errorf("openai error (status %d): %s", resp.StatusCode(), resp.String())
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(out.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) || vecs[d.Index] != nil {
			return nil, fmt.Errorf("openai returned invalid embedding index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	if err := checkDimensions(vecs, e.dimensions); err != nil {
		return nil, err
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns "openai:<model>".
func (e *OpenAIEmbedder) ModelID() string {
	return "openai:" + e.model
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
