// Package indexer turns source documents into chunked, embedded, in-memory indexes ready to persist.
package indexer

import (
	"iter"
	"slices"
	"strings"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
)

// Chunker splits text into overlapping word windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
// Returns models.ErrConfiguration unless 0 <= overlap < size.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if err := config.ValidateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// Size returns the window size in words.
func (c *Chunker) Size() int { return c.chunkSize }

// Overlap returns the number of words shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Chunks returns a lazy sequence of windows over the words of text. Each window
// starts size-overlap words after the previous one; the last window may be shorter.
// The sequence can be ranged over any number of times.
func (c *Chunker) Chunks(sourceID, text string) iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		words := strings.Fields(text)
		if len(words) == 0 {
			return
		}
		step := c.chunkSize - c.chunkOverlap
		for seq, start := 0, 0; ; seq, start = seq+1, start+step {
			end := min(start+c.chunkSize, len(words))
			chunk := models.Chunk{
				Text:          strings.Join(words[start:end], " "),
				SourceID:      sourceID,
				SequenceIndex: seq,
			}
			if !yield(chunk) || end == len(words) {
				return
			}
		}
	}
}

// Chunk collects Chunks into a slice; nil for blank text.
func (c *Chunker) Chunk(sourceID, text string) []models.Chunk {
	return slices.Collect(c.Chunks(sourceID, text))
}

// ExpectedChunks returns how many windows a text of words words produces.
func (c *Chunker) ExpectedChunks(words int) int {
	if words <= 0 {
		return 0
	}
	if words <= c.chunkSize {
		return 1
	}
	step := c.chunkSize - c.chunkOverlap
	return (words-c.chunkSize+step-1)/step + 1
}
