package storage

import (
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/vector"
)

// filterOverfetch multiplies k when filters may discard hits.
const filterOverfetch = 3

// Handle is a fully loaded, read-only store. It is safe for concurrent use.
type Handle struct {
	Location   string
	Generation string
	Meta       models.StoreMeta

	index  *vector.FlatIndex
	chunks []models.Chunk
}

// Len returns the number of chunks in the store.
func (h *Handle) Len() int {
	return len(h.chunks)
}

// Dimension returns the vector dimension of the store.
func (h *Handle) Dimension() int {
	return h.index.Dimension()
}

// Chunk returns the chunk at position i.
func (h *Handle) Chunk(i int) models.Chunk {
	return h.chunks[i]
}

// Search returns up to k evidence items ordered by descending similarity to query.
// With filters, k*3 candidates are scored and those not matching every filter dropped,
// so fewer than k items may come back.
func (h *Handle) Search(query []float32, k int, filters map[string]string) ([]*models.Evidence, error) {
	fetch := k
	if len(filters) > 0 {
		fetch = k * filterOverfetch
	}
	hits, err := h.index.Search(query, fetch)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Evidence, 0, min(k, len(hits)))
	for _, hit := range hits {
		c := h.chunks[hit.Index]
		if !matches(c, filters) {
			continue
		}
		out = append(out, &models.Evidence{
			Text:          c.Text,
			Score:         hit.Score,
			SourceID:      c.SourceID,
			SequenceIndex: c.SequenceIndex,
			Rank:          len(out) + 1,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func matches(c models.Chunk, filters map[string]string) bool {
	for key, want := range filters {
		switch key {
		case models.FilterSourceID:
			if c.SourceID != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}
