package services

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"supplychain-iq-api/pkg/models"
)

// Metrics holds all Prometheus metrics for the API.
// All methods are nil-safe so services can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Forecast
	ForecastsTotal *prometheus.CounterVec

	// Retrieval index
	IndexRebuildsTotal   *prometheus.CounterVec
	IndexRebuildDuration prometheus.Histogram
	IndexGeneration      prometheus.Gauge
	IndexChunks          prometheus.Gauge

	// RAG
	RAGQueriesTotal      prometheus.Counter
	LLMFallbacksTotal    *prometheus.CounterVec
	EmbeddingCacheLookup *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on a dedicated registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplychain_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supplychain_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.ForecastsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplychain_forecasts_total",
			Help: "Forecasts produced, by tier",
		},
		[]string{"tier"},
	)

	m.IndexRebuildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplychain_index_rebuilds_total",
			Help: "Retrieval index builds, by result",
		},
		[]string{"status"},
	)
	m.IndexRebuildDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supplychain_index_rebuild_duration_seconds",
			Help:    "Duration of retrieval index builds in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	m.IndexGeneration = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "supplychain_index_generation",
			Help: "Generation number of the live retrieval index",
		},
	)
	m.IndexChunks = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "supplychain_index_chunks",
			Help: "Number of chunks in the live retrieval index",
		},
	)

	m.RAGQueriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "supplychain_rag_queries_total",
			Help: "Total number of RAG queries",
		},
	)
	m.LLMFallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplychain_llm_fallbacks_total",
			Help: "Answers served from the context-only fallback, by reason",
		},
		[]string{"reason"},
	)
	m.EmbeddingCacheLookup = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplychain_embedding_cache_lookups_total",
			Help: "Embedding cache lookups, by result",
		},
		[]string{"result"},
	)

	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveForecast records the tier that produced a forecast.
func (m *Metrics) ObserveForecast(tier models.ForecastTier) {
	if m == nil {
		return
	}
	m.ForecastsTotal.WithLabelValues(string(tier)).Inc()
}

// ObserveRebuild records an index build.
func (m *Metrics) ObserveRebuild(err error, d time.Duration, generation uint64, chunks int) {
	if m == nil {
		return
	}
	if err != nil {
		m.IndexRebuildsTotal.WithLabelValues("error").Inc()
		return
	}
	m.IndexRebuildsTotal.WithLabelValues("ok").Inc()
	m.IndexRebuildDuration.Observe(d.Seconds())
	m.IndexGeneration.Set(float64(generation))
	m.IndexChunks.Set(float64(chunks))
}

// ObserveQuery records a RAG query.
func (m *Metrics) ObserveQuery() {
	if m == nil {
		return
	}
	m.RAGQueriesTotal.Inc()
}

// ObserveFallback records a context-only answer.
func (m *Metrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.LLMFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveCacheLookup records an embedding cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.EmbeddingCacheLookup.WithLabelValues("hit").Inc()
	} else {
		m.EmbeddingCacheLookup.WithLabelValues("miss").Inc()
	}
}
