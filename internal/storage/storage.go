// Package storage persists and loads vector stores. Each store location is a directory of
// immutable generations plus a CURRENT file naming the published one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/extract"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/vector"
	"github.com/hyperjump/shiryo/pkg/utils"
)

// DefaultKeepGenerations is how many generations survive a rebuild, the published one included.
const DefaultKeepGenerations = 2

// loadAttempts bounds retries when a rebuild republishes during a load.
const loadAttempts = 3

// Manager builds, loads, queries, and deletes stores. It holds no per-location state,
// so one Manager serves any number of locations concurrently.
type Manager struct {
	embedder  embedding.Embedder
	chunker   *indexer.Chunker
	extractor *extract.Extractor
	batchSize int
	keep      int
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for build, publish, load, and gc events.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records build and load outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithKeepGenerations sets how many generations to retain. Values < 1 are ignored.
func WithKeepGenerations(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.keep = n
		}
	}
}

// WithBatchSize sets the embedding batch size used by builds.
func WithBatchSize(n int) Option {
	return func(m *Manager) { m.batchSize = n }
}

// WithExtractor sets the extractor used for documents given by path.
func WithExtractor(e *extract.Extractor) Option {
	return func(m *Manager) { m.extractor = e }
}

// NewManager creates a store manager that embeds with embedder and chunks with chunker.
func NewManager(embedder embedding.Embedder, chunker *indexer.Chunker, opts ...Option) *Manager {
	m := &Manager{
		embedder:  embedder,
		chunker:   chunker,
		batchSize: indexer.DefaultBatchSize,
		keep:      DefaultKeepGenerations,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extractor == nil {
		m.extractor = extract.NewExtractor(extract.WithLogger(m.logger))
	}
	return m
}

// Embedder returns the embedder used for builds and queries.
func (m *Manager) Embedder() embedding.Embedder {
	return m.embedder
}

// BuildResult describes a published store.
type BuildResult struct {
	Location   string        `json:"location"`
	Generation string        `json:"generation"`
	ChunkCount int           `json:"chunk_count"`
	Dimension  int           `json:"dimension"`
	Sources    int           `json:"sources"`
	Skipped    []string      `json:"skipped,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Exists reports whether location holds a published store whose artifacts are all
// present and agree on chunk count and dimension.
func (m *Manager) Exists(ctx context.Context, location string) bool {
	location, err := cleanLocation(location)
	if err != nil {
		return false
	}
	gen, err := readCurrent(location)
	if err != nil {
		return false
	}
	_, err = checkGeneration(ctx, filepath.Join(location, gen))
	return err == nil
}

// CurrentGeneration returns the published generation of location, or
// models.ErrStoreNotFound when nothing is published.
func (m *Manager) CurrentGeneration(location string) (string, error) {
	location, err := cleanLocation(location)
	if err != nil {
		return "", err
	}
	gen, err := readCurrent(location)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", models.ErrStoreNotFound, location)
	}
	if err != nil {
		return "", &models.CorruptionError{Location: location, Reason: "unreadable " + currentFile, Err: err}
	}
	return gen, nil
}

// Build chunks and embeds docs, writes the complete store into a staging directory,
// verifies it, and only then publishes it as the new generation of location. A failed
// build leaves the previously published store, if any, untouched. extra options are
// passed to the underlying indexer.Builder (e.g. indexer.WithProgress).
func (m *Manager) Build(ctx context.Context, location string, docs []models.SourceDocument, extra ...indexer.BuilderOption) (*BuildResult, error) {
	location, err := cleanLocation(location)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(location, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store location: %w", err)
	}
	fl, err := tryLock(location)
	if err != nil {
		m.metrics.ObserveBuild(metrics.OutcomeError, 0, 0)
		return nil, err
	}
	defer fl.Close()

	began := m.now()
	log := m.logger.With(zap.String("location", location))
	log.Info("store build started", zap.Int("documents", len(docs)))

	opts := append([]indexer.BuilderOption{
		indexer.WithLogger(log),
		indexer.WithBatchSize(m.batchSize),
		indexer.WithExtractor(m.extractor),
	}, extra...)
	built, err := indexer.NewBuilder(m.embedder, m.chunker, opts...).Build(ctx, docs)
	if err != nil {
		return nil, m.buildFailed(log, err)
	}

	if err := removeStaging(location); err != nil {
		log.Warn("failed to remove stale staging directories", zap.Error(err))
	}
	staging := filepath.Join(location, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0755); err != nil {
		return nil, m.buildFailed(log, fmt.Errorf("failed to create staging directory: %w", err))
	}
	meta := &models.StoreMeta{
		FormatVersion:  MetaFormatVersion,
		ChunkCount:     len(built.Chunks),
		Dimension:      built.Dimension,
		ModelIdentity:  built.ModelID,
		BuildTimestamp: began.UTC(),
		ChunkSize:      m.chunker.Size(),
		ChunkOverlap:   m.chunker.Overlap(),
		Sources:        built.Sources,
	}
	if err := writeGeneration(ctx, staging, built, meta); err != nil {
		_ = os.RemoveAll(staging)
		return nil, m.buildFailed(log, err)
	}
	if _, err := checkGeneration(ctx, staging); err != nil {
		_ = os.RemoveAll(staging)
		return nil, m.buildFailed(log, fmt.Errorf("staged store failed verification: %w", err))
	}

	gen := newGenerationName(m.now())
	genDir := filepath.Join(location, gen)
	if err := os.Rename(staging, genDir); err != nil {
		_ = os.RemoveAll(staging)
		return nil, m.buildFailed(log, fmt.Errorf("failed to move staged store into place: %w", err))
	}
	if err := syncDir(location); err != nil {
		log.Warn("failed to sync store directory", zap.Error(err))
	}
	if err := writeCurrent(location, gen); err != nil {
		_ = os.RemoveAll(genDir)
		return nil, m.buildFailed(log, err)
	}
	m.collect(log, location, gen)

	res := &BuildResult{
		Location:   location,
		Generation: gen,
		ChunkCount: meta.ChunkCount,
		Dimension:  meta.Dimension,
		Sources:    built.Sources,
		Skipped:    built.Skipped,
		Duration:   m.now().Sub(began),
	}
	m.metrics.ObserveBuild(metrics.OutcomeOK, res.ChunkCount, res.Duration)
	log.Info("store published",
		zap.String("generation", gen),
		zap.Int("chunks", res.ChunkCount),
		zap.Int("dimension", res.Dimension),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (m *Manager) buildFailed(log *zap.Logger, err error) error {
	m.metrics.ObserveBuild(metrics.OutcomeError, 0, 0)
	if errors.Is(err, models.ErrEmbedder) {
		m.metrics.EmbedderError()
	}
	log.Error("store build failed", zap.Error(err))
	return err
}

func writeGeneration(ctx context.Context, dir string, built *indexer.Result, meta *models.StoreMeta) error {
	f, err := os.Create(filepath.Join(dir, vectorsFile))
	if err != nil {
		return fmt.Errorf("failed to create vectors file: %w", err)
	}
	if err := vector.Encode(f, built.Index); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write vectors: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync vectors: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close vectors file: %w", err)
	}
	if err := writeChunks(ctx, filepath.Join(dir, chunksFile), built.Chunks); err != nil {
		return err
	}
	// meta.json goes last: its presence marks the other artifacts as complete.
	if err := writeMeta(filepath.Join(dir, metaFile), meta); err != nil {
		return err
	}
	return syncDir(dir)
}

// checkGeneration verifies that every artifact of a generation directory is present and
// that they agree on chunk count and dimension, without loading vectors or texts.
func checkGeneration(ctx context.Context, dir string) (*models.StoreMeta, error) {
	meta, err := readMeta(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	vecPath := filepath.Join(dir, vectorsFile)
	f, err := os.Open(vecPath)
	if err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	hdr, err := vector.ReadHeader(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	size, err := fileSize(vecPath)
	if err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	if err := hdr.CheckSize(size); err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	if int(hdr.Count) != meta.ChunkCount {
		return nil, fmt.Errorf("vectors hold %d entries, metadata records %d", hdr.Count, meta.ChunkCount)
	}
	if int(hdr.Dimension) != meta.Dimension {
		return nil, fmt.Errorf("vectors have dimension %d, metadata records %d", hdr.Dimension, meta.Dimension)
	}
	n, err := countChunks(ctx, filepath.Join(dir, chunksFile))
	if err != nil {
		return nil, fmt.Errorf("chunks: %w", err)
	}
	if n != meta.ChunkCount {
		return nil, fmt.Errorf("chunk table holds %d rows, metadata records %d", n, meta.ChunkCount)
	}
	return meta, nil
}

// Load reads the published store of location fully into memory. Returns
// models.ErrStoreNotFound when nothing is published and a *models.CorruptionError
// when the published artifacts are missing or inconsistent. A failed load returns no handle.
func (m *Manager) Load(ctx context.Context, location string) (*Handle, error) {
	location, err := cleanLocation(location)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < loadAttempts; attempt++ {
		gen, err := m.CurrentGeneration(location)
		if err != nil {
			m.observeLoad(err)
			return nil, err
		}
		h, err := loadGeneration(ctx, location, gen)
		if err == nil {
			m.metrics.ObserveLoad(metrics.OutcomeOK)
			m.logger.Debug("store loaded",
				zap.String("location", location),
				zap.String("generation", gen),
				zap.Int("chunks", h.Len()))
			return h, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = &models.CorruptionError{Location: location, Reason: "generation " + gen, Err: err}
		// A rebuild may have republished and collected gen while it was being read.
		if now, cerr := readCurrent(location); cerr == nil && now != gen {
			continue
		}
		break
	}
	m.observeLoad(lastErr)
	m.logger.Error("store load failed", zap.String("location", location), zap.Error(lastErr))
	return nil, lastErr
}

func (m *Manager) observeLoad(err error) {
	switch {
	case errors.Is(err, models.ErrStoreNotFound):
		m.metrics.ObserveLoad(metrics.OutcomeNotFound)
	case errors.Is(err, models.ErrStoreCorruption):
		m.metrics.ObserveLoad(metrics.OutcomeCorrupted)
	default:
		m.metrics.ObserveLoad(metrics.OutcomeError)
	}
}

func loadGeneration(ctx context.Context, location, gen string) (*Handle, error) {
	dir := filepath.Join(location, gen)
	meta, err := readMeta(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	f, err := os.Open(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	idx, err := vector.Decode(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	chunks, err := readChunks(ctx, filepath.Join(dir, chunksFile))
	if err != nil {
		return nil, fmt.Errorf("chunks: %w", err)
	}
	switch {
	case idx.Len() != meta.ChunkCount:
		return nil, fmt.Errorf("vectors hold %d entries, metadata records %d", idx.Len(), meta.ChunkCount)
	case idx.Dimension() != meta.Dimension:
		return nil, fmt.Errorf("vectors have dimension %d, metadata records %d", idx.Dimension(), meta.Dimension)
	case len(chunks) != meta.ChunkCount:
		return nil, fmt.Errorf("chunk table holds %d rows, metadata records %d", len(chunks), meta.ChunkCount)
	}
	return &Handle{
		Location:   location,
		Generation: gen,
		Meta:       *meta,
		index:      idx,
		chunks:     chunks,
	}, nil
}

// Query embeds text and returns the k most similar chunks of h that match filters.
// Embedding failures and non-finite query vectors wrap models.ErrEmbedder; a query vector of the wrong dimension
// fails with models.ErrDimensionMismatch.
func (m *Manager) Query(ctx context.Context, h *Handle, text string, k int, filters map[string]string) ([]*models.Evidence, error) {
	if h.Meta.ModelIdentity != m.embedder.ModelID() {
		m.logger.Warn("querying store built with a different model",
			zap.String("location", h.Location),
			zap.String("store_model", h.Meta.ModelIdentity),
			zap.String("query_model", m.embedder.ModelID()))
	}
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		m.metrics.EmbedderError()
		return nil, fmt.Errorf("%w: query: %w", models.ErrEmbedder, err)
	}
	if !utils.IsFinite(vec) {
		m.metrics.EmbedderError()
		return nil, fmt.Errorf("%w: query: embedding contains non-finite values", models.ErrEmbedder)
	}
	return h.Search(vec, k, filters)
}

// Delete removes location and every generation in it. Deleting an absent location is not an error.
func (m *Manager) Delete(location string) error {
	location, err := cleanLocation(location)
	if err != nil {
		return err
	}
	if _, err := os.Stat(location); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	fl, err := tryLock(location)
	if err != nil {
		return err
	}
	defer fl.Close()
	if err := os.RemoveAll(location); err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	m.logger.Info("store deleted", zap.String("location", location))
	return nil
}

// Stats reports publication state, metadata, and disk usage of location.
func (m *Manager) Stats(ctx context.Context, location string) (*models.StoreStats, error) {
	location, err := cleanLocation(location)
	if err != nil {
		return nil, err
	}
	st := &models.StoreStats{Location: location}
	gens, err := listGenerations(location)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	st.Generations = len(gens)
	if st.DiskUsageBytes, err = usage(location); err != nil {
		return nil, fmt.Errorf("failed to compute disk usage: %w", err)
	}
	gen, err := readCurrent(location)
	if err != nil {
		return st, nil
	}
	st.Generation = gen
	dir := filepath.Join(location, gen)
	if meta, err := checkGeneration(ctx, dir); err == nil {
		st.Exists = true
		st.Meta = meta
	} else if meta, err := readMeta(filepath.Join(dir, metaFile)); err == nil {
		st.Meta = meta
	}
	return st, nil
}

// collect removes generations beyond the retention limit. Failures are logged only.
func (m *Manager) collect(log *zap.Logger, location, current string) {
	gens, err := listGenerations(location)
	if err != nil {
		log.Warn("failed to list generations", zap.Error(err))
		return
	}
	for _, g := range obsoleteGenerations(gens, current, m.keep) {
		if err := os.RemoveAll(filepath.Join(location, g)); err != nil {
			log.Warn("failed to remove old generation", zap.String("generation", g), zap.Error(err))
			continue
		}
		log.Debug("removed old generation", zap.String("generation", g))
	}
}

func cleanLocation(location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", fmt.Errorf("%w: store location is empty", models.ErrConfiguration)
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", fmt.Errorf("failed to resolve store location: %w", err)
	}
	return abs, nil
}
