// Package retrieval resolves which store a caller means and queries it. A missing store
// is reported as a normal result with Found=false; corruption and embedder failures are errors.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
)

// Resolver maps scope ids to store locations. *session.Registry implements it.
type Resolver interface {
	Location(scopeID string) (string, error)
	DefaultLocation() string
}

// Facade is the single entry point for retrieval.
type Facade struct {
	manager  *storage.Manager
	resolver Resolver
	handles  *lru.Cache[string, *storage.Handle]
	cacheLen int
	defaultK int
	maxK     int
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets a logger for retrieval outcomes.
func WithLogger(l *zap.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// WithMetrics records retrieval outcomes and handle cache hits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Facade) { f.metrics = m }
}

// WithLimits sets the k used when a query leaves it unset and the largest k served.
func WithLimits(defaultK, maxK int) Option {
	return func(f *Facade) {
		f.defaultK = defaultK
		f.maxK = maxK
	}
}

// WithHandleCacheSize sets how many loaded stores stay in memory.
func WithHandleCacheSize(n int) Option {
	return func(f *Facade) { f.cacheLen = n }
}

// New creates a facade over manager, resolving scopes with resolver.
func New(manager *storage.Manager, resolver Resolver, opts ...Option) (*Facade, error) {
	f := &Facade{
		manager:  manager,
		resolver: resolver,
		cacheLen: config.DefaultHandleCacheSize,
		defaultK: config.DefaultK,
		maxK:     config.DefaultMaxK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.defaultK <= 0 || (f.maxK > 0 && f.defaultK > f.maxK) {
		return nil, fmt.Errorf("%w: default k %d, max k %d", models.ErrConfiguration, f.defaultK, f.maxK)
	}
	if f.cacheLen <= 0 {
		f.cacheLen = 1
	}
	cache, err := lru.New[string, *storage.Handle](f.cacheLen)
	if err != nil {
		return nil, err
	}
	f.handles = cache
	return f, nil
}

// Resolve returns the store location for q: an explicit location first, then the
// location of q.ScopeID, then the default location.
func (f *Facade) Resolve(q models.RetrieveQuery) (string, error) {
	switch {
	case strings.TrimSpace(q.Location) != "":
		return filepath.Abs(q.Location)
	case q.ScopeID != "":
		return f.resolver.Location(q.ScopeID)
	default:
		return f.resolver.DefaultLocation(), nil
	}
}

// Retrieve answers q from the resolved store. When that location holds no store the
// result has Found=false and no error, and callers fall back to coarser evidence.
func (f *Facade) Retrieve(ctx context.Context, q models.RetrieveQuery) (*models.RetrieveResult, error) {
	start := time.Now()
	if err := q.Validate(f.defaultK, f.maxK); err != nil {
		f.metrics.ObserveRetrieve(metrics.OutcomeError, time.Since(start))
		return nil, err
	}
	location, err := f.Resolve(q)
	if err != nil {
		f.metrics.ObserveRetrieve(metrics.OutcomeError, time.Since(start))
		return nil, err
	}
	res := &models.RetrieveResult{
		Location: location,
		Query:    q.Query,
		Evidence: []*models.Evidence{},
	}
	log := f.logger.With(zap.String("location", location))

	h, err := f.handle(ctx, location)
	if errors.Is(err, models.ErrStoreNotFound) {
		res.QueryTime = time.Since(start).Milliseconds()
		f.metrics.ObserveRetrieve(metrics.OutcomeNotFound, time.Since(start))
		log.Debug("no store at location")
		return res, nil
	}
	if err != nil {
		f.observeFailure(err, start)
		log.Error("failed to load store", zap.Error(err))
		return nil, err
	}

	ev, err := f.manager.Query(ctx, h, q.Query, q.K, q.Filters)
	if err != nil {
		f.observeFailure(err, start)
		log.Error("query failed", zap.Error(err))
		return nil, err
	}
	res.Found = true
	res.Generation = h.Generation
	res.Evidence = ev
	res.QueryTime = time.Since(start).Milliseconds()
	f.metrics.ObserveRetrieve(metrics.OutcomeOK, time.Since(start))
	log.Debug("retrieved evidence",
		zap.String("generation", h.Generation),
		zap.Int("k", q.K),
		zap.Int("results", len(ev)),
		zap.Int64("query_time_ms", res.QueryTime))
	return res, nil
}

func (f *Facade) observeFailure(err error, start time.Time) {
	outcome := metrics.OutcomeError
	if errors.Is(err, models.ErrStoreCorruption) {
		outcome = metrics.OutcomeCorrupted
	}
	f.metrics.ObserveRetrieve(outcome, time.Since(start))
}

// handle returns the loaded store for location, reusing a cached handle while the
// published generation is unchanged.
func (f *Facade) handle(ctx context.Context, location string) (*storage.Handle, error) {
	gen, err := f.manager.CurrentGeneration(location)
	if err != nil {
		return nil, err
	}
	if h, ok := f.handles.Get(cacheKey(location, gen)); ok {
		f.metrics.HandleCacheHit()
		return h, nil
	}
	h, err := f.manager.Load(ctx, location)
	if err != nil {
		return nil, err
	}
	f.Invalidate(location)
	f.handles.Add(cacheKey(location, h.Generation), h)
	return h, nil
}

// Invalidate drops every cached handle of location.
func (f *Facade) Invalidate(location string) {
	prefix := location + "@"
	for _, key := range f.handles.Keys() {
		if strings.HasPrefix(key, prefix) {
			f.handles.Remove(key)
		}
	}
}

func cacheKey(location, generation string) string {
	return location + "@" + generation
}
