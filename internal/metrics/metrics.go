// Package metrics exposes Prometheus instruments for store builds, loads, and retrievals.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shiryo"

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeNotFound  = "not_found"
	OutcomeCorrupted = "corrupted"
)

// Metrics holds the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	builds           *prometheus.CounterVec
	buildDuration    prometheus.Histogram
	buildChunks      prometheus.Histogram
	loads            *prometheus.CounterVec
	retrievals       *prometheus.CounterVec
	retrieveDuration prometheus.Histogram
	handleCacheHits  prometheus.Counter
	embedderErrors   prometheus.Counter
}

// New creates a Metrics with its own registry, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_builds_total",
			Help: "Store builds by outcome.",
		}, []string{"outcome"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "store_build_duration_seconds",
			Help:    "Wall time of successful store builds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		buildChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "store_build_chunks",
			Help:    "Chunks per successful store build.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_loads_total",
			Help: "Store loads by outcome.",
		}, []string{"outcome"}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retrievals_total",
			Help: "Retrieval requests by outcome.",
		}, []string{"outcome"}),
		retrieveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "retrieval_duration_seconds",
			Help:    "Wall time of retrieval requests that found a store.",
			Buckets: prometheus.DefBuckets,
		}),
		handleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_handle_cache_hits_total",
			Help: "Retrievals served from an already loaded store.",
		}),
		embedderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedder_errors_total",
			Help: "Failed embedding calls during builds and queries.",
		}),
	}
	m.registry.MustRegister(
		m.builds, m.buildDuration, m.buildChunks, m.loads,
		m.retrievals, m.retrieveDuration, m.handleCacheHits, m.embedderErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBuild records a build outcome; chunks and duration are recorded only on success.
func (m *Metrics) ObserveBuild(outcome string, chunks int, d time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.buildDuration.Observe(d.Seconds())
		m.buildChunks.Observe(float64(chunks))
	}
}

// ObserveLoad records a store load outcome.
func (m *Metrics) ObserveLoad(outcome string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
}

// ObserveRetrieve records a retrieval outcome and, when a store was queried, its duration.
func (m *Metrics) ObserveRetrieve(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.retrieveDuration.Observe(d.Seconds())
	}
}

// HandleCacheHit counts a retrieval served from a cached store handle.
func (m *Metrics) HandleCacheHit() {
	if m == nil {
		return
	}
	m.handleCacheHits.Inc()
}

// EmbedderError counts a failed embedding call.
func (m *Metrics) EmbedderError() {
	if m == nil {
		return
	}
	m.embedderErrors.Inc()
}
