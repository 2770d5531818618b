package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/extract"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/vector"
	"github.com/hyperjump/shiryo/pkg/utils"
)

// DefaultBatchSize is the number of chunks sent to the embedder per call.
const DefaultBatchSize = 64

// Build stages reported to a ProgressFunc.
const (
	StageExtract = "extract"
	StageEmbed   = "embed"
)

// ProgressFunc receives build progress. total is fixed per stage.
type ProgressFunc func(stage string, done, total int)

// Builder runs normalize, chunk, and embed over a document set and accumulates
// the result in memory. Nothing is written to disk.
type Builder struct {
	embedder  embedding.Embedder
	chunker   *Chunker
	extractor *extract.Extractor
	batchSize int
	logger    *zap.Logger
	progress  ProgressFunc
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for skipped documents and batch timings.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithBatchSize sets how many chunks go to the embedder per call. Values < 1 are ignored.
func WithBatchSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithExtractor sets the extractor used for documents given by path.
func WithExtractor(e *extract.Extractor) BuilderOption {
	return func(b *Builder) { b.extractor = e }
}

// WithProgress sets a progress callback.
func WithProgress(fn ProgressFunc) BuilderOption {
	return func(b *Builder) { b.progress = fn }
}

// NewBuilder creates a builder. Documents given by path are read with a default extractor
// unless WithExtractor is passed.
func NewBuilder(embedder embedding.Embedder, chunker *Chunker, opts ...BuilderOption) *Builder {
	b := &Builder{
		embedder:  embedder,
		chunker:   chunker,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.extractor == nil {
		b.extractor = extract.NewExtractor(extract.WithLogger(b.logger))
	}
	return b
}

// Result is a fully embedded document set. Chunks[i] corresponds to vector i of Index.
type Result struct {
	Chunks    []models.Chunk
	Index     *vector.FlatIndex
	Sources   int
	Skipped   []string
	Dimension int
	ModelID   string
}

// Build normalizes, chunks, and embeds docs in order. Documents whose text cannot be
// extracted are skipped and listed in Result.Skipped. Returns models.ErrNoDocuments when
// no chunk is produced and wraps models.ErrEmbedder on any embedding failure; a failed
// build returns no partial result.
func (b *Builder) Build(ctx context.Context, docs []models.SourceDocument) (*Result, error) {
	res := &Result{ModelID: b.embedder.ModelID()}

	ids := make([]string, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		id := doc.SourceID
		if id == "" {
			id = defaultSourceID(doc, i)
		}
		// sequence indexes restart per document, so ids must be unique within a build
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate source id %q", models.ErrConfiguration, id)
		}
		seen[id] = struct{}{}
		ids[i] = id
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sourceID := ids[i]
		text, err := b.documentText(doc)
		if err != nil {
			b.logger.Warn("skipping unreadable document", zap.String("source_id", sourceID), zap.Error(err))
			res.Skipped = append(res.Skipped, sourceID)
			b.report(StageExtract, i+1, len(docs))
			continue
		}
		before := len(res.Chunks)
		for chunk := range b.chunker.Chunks(sourceID, Normalize(text)) {
			res.Chunks = append(res.Chunks, chunk)
		}
		if len(res.Chunks) > before {
			res.Sources++
		} else {
			b.logger.Warn("document produced no text", zap.String("source_id", sourceID))
			res.Skipped = append(res.Skipped, sourceID)
		}
		b.report(StageExtract, i+1, len(docs))
	}
	if len(res.Chunks) == 0 {
		return nil, fmt.Errorf("%w: %d documents supplied, %d skipped", models.ErrNoDocuments, len(docs), len(res.Skipped))
	}

	if err := b.embedAll(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (b *Builder) embedAll(ctx context.Context, res *Result) error {
	total := len(res.Chunks)
	dim := b.embedder.Dimensions()
	b.report(StageEmbed, 0, total)
	for start := 0; start < total; start += b.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+b.batchSize, total)
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = res.Chunks[start+i].Text
		}
		began := time.Now()
		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: chunks %d-%d: %w", models.ErrEmbedder, start, end-1, err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("%w: chunks %d-%d: got %d vectors for %d texts",
				models.ErrEmbedder, start, end-1, len(vecs), len(texts))
		}
		if dim <= 0 {
			dim = len(vecs[0])
		}
		for i, v := range vecs {
			if len(v) != dim {
				return fmt.Errorf("%w: chunk %d: %w", models.ErrEmbedder, start+i,
					&models.DimensionMismatchError{Got: len(v), Want: dim})
			}
			if !utils.IsFinite(v) {
				return fmt.Errorf("%w: chunk %d: non-finite vector component", models.ErrEmbedder, start+i)
			}
		}
		if res.Index == nil {
			idx, err := vector.NewFlatIndex(dim)
			if err != nil {
				return fmt.Errorf("%w: %w", models.ErrEmbedder, err)
			}
			res.Index = idx
		}
		if err := res.Index.Add(vecs); err != nil {
			return fmt.Errorf("failed to index vectors: %w", err)
		}
		b.logger.Debug("embedded batch",
			zap.Int("from", start), zap.Int("to", end-1),
			zap.Duration("duration", time.Since(began)))
		b.report(StageEmbed, end, total)
	}
	res.Dimension = dim
	return nil
}

func (b *Builder) documentText(doc models.SourceDocument) (string, error) {
	if doc.Text != "" || doc.Path == "" {
		return doc.Text, nil
	}
	return b.extractor.Extract(doc.Path)
}

func (b *Builder) report(stage string, done, total int) {
	if b.progress != nil {
		b.progress(stage, done, total)
	}
}

func defaultSourceID(doc models.SourceDocument, i int) string {
	if doc.Path != "" {
		return filepath.Base(doc.Path)
	}
	return fmt.Sprintf("doc-%d", i)
}
