package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/hyperjump/shiryo/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline use. Each text seeds a
// pseudo-random unit vector, so equal texts embed identically and distinct texts are
// nearly orthogonal at realistic dimensions.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder; dimensions <= 0 selects 384.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()
	emb := make([]float32, e.dimensions)
	for i := range emb {
		state = splitmix64(state)
		// top 24 bits mapped to [-1, 1)
		emb[i] = float32(state>>40)/float32(1<<23) - 1
	}
	if utils.NormalizeL2(emb) == 0 {
		emb[0] = 1
	}
	return emb, nil
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID identifies the mock model and its dimension.
func (e *MockEmbedder) ModelID() string {
	return fmt.Sprintf("mock:%d", e.dimensions)
}

func (e *MockEmbedder) Close() error {
	return nil
}
