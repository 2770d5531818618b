package vector

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/pkg/utils"
)

// FlatIndex is an exact, brute-force inner-product index.
// Vectors are stored contiguously in insertion order.
type FlatIndex struct {
	dimension int
	data      []float32
	mu        sync.RWMutex
}

// NewFlatIndex creates an empty index for vectors of the given dimension.
func NewFlatIndex(dimension int) (*FlatIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", models.ErrConfiguration, dimension)
	}
	return &FlatIndex{dimension: dimension}, nil
}

// Dimension returns the fixed vector dimension.
func (f *FlatIndex) Dimension() int {
	return f.dimension
}

// Len returns the number of stored vectors.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dimension
}

// Add appends copies of vectors, normalizing each to unit length. No deduplication is done.
// Nothing is appended if any vector has the wrong dimension.
func (f *FlatIndex) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != f.dimension {
			return &models.DimensionMismatchError{Got: len(v), Want: f.dimension}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = slices.Grow(f.data, len(vectors)*f.dimension)
	for _, v := range vectors {
		start := len(f.data)
		f.data = append(f.data, v...)
		utils.NormalizeL2(f.data[start:])
	}
	return nil
}

// Vector returns a copy of the i-th stored vector.
func (f *FlatIndex) Vector(i int) []float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.row(i))
}

func (f *FlatIndex) row(i int) []float32 {
	return f.data[i*f.dimension : (i+1)*f.dimension]
}

// Search returns at most k hits ordered by descending inner product with the
// normalized query. Equal scores are ordered by ascending insertion index.
func (f *FlatIndex) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dimension {
		return nil, &models.DimensionMismatchError{Got: len(query), Want: f.dimension}
	}
	q := slices.Clone(query)
	utils.NormalizeL2(q)

	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.data) / f.dimension
	if k <= 0 || n == 0 {
		return nil, nil
	}
	k = min(k, n)

	top := newTopK(k)
	for i := 0; i < n; i++ {
		top.push(Result{Index: i, Score: InnerProduct(q, f.row(i))})
	}
	return top.sorted(), nil
}
