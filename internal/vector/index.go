// Package vector provides the in-memory flat vector index and its on-disk encoding.
package vector

// Index stores unit-normalized vectors of a fixed dimension and answers
// top-k inner-product queries.
type Index interface {
	Add(vectors [][]float32) error
	Search(query []float32, k int) ([]Result, error)
	Len() int
	Dimension() int
}

// Result is a single search hit. Index is the insertion position of the vector.
type Result struct {
	Index int
	Score float64
}
