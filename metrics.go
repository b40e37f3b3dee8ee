package hrquery

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the transport, the query
// cache and the mutation runner. All methods are no-ops on a nil collector.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec

	cacheHits     *prometheus.CounterVec
	cacheFetches  *prometheus.CounterVec
	dedupJoins    *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	staleDiscards *prometheus.CounterVec
	cacheEntries  prometheus.Gauge

	mutationsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_requests_total",
				Help: "Total number of logical requests sent",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hrquery_request_duration_seconds",
				Help:    "Duration of logical requests including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hrquery_requests_in_flight",
				Help: "Number of requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_errors_total",
				Help: "Total number of failed attempts by kind",
			},
			[]string{"kind", "method", "endpoint"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_cache_hits_total",
				Help: "Subscriptions served from a fresh cache entry",
			},
			[]string{"endpoint"},
		),
		cacheFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_cache_fetches_total",
				Help: "Fetches started by the query cache",
			},
			[]string{"endpoint"},
		),
		dedupJoins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_deduplication_hits_total",
				Help: "Reads that joined an in-flight fetch",
			},
			[]string{"endpoint"},
		),
		invalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_invalidations_total",
				Help: "Cache entries marked stale by invalidation",
			},
			[]string{"endpoint"},
		),
		staleDiscards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_stale_responses_discarded_total",
				Help: "Responses dropped because a newer fetch already committed",
			},
			[]string{"endpoint"},
		),
		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hrquery_cache_entries",
				Help: "Current number of cache entries",
			},
		),
		mutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrquery_mutations_total",
				Help: "Mutations run by outcome",
			},
			[]string{"endpoint", "outcome"},
		),
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordError increments error counter by kind.
func (mc *MetricsCollector) RecordError(kind ErrorKind, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(string(kind), method, endpoint).Inc()
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheFetch increments the fetch counter.
func (mc *MetricsCollector) RecordCacheFetch(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheFetches.WithLabelValues(endpoint).Inc()
}

// RecordDeduplicationHit increments de-dup hit counter.
func (mc *MetricsCollector) RecordDeduplicationHit(endpoint string) {
	if mc == nil {
		return
	}

	mc.dedupJoins.WithLabelValues(endpoint).Inc()
}

// RecordInvalidation increments the invalidation counter.
func (mc *MetricsCollector) RecordInvalidation(endpoint string) {
	if mc == nil {
		return
	}

	mc.invalidations.WithLabelValues(endpoint).Inc()
}

// RecordStaleDiscard increments the discarded-response counter.
func (mc *MetricsCollector) RecordStaleDiscard(endpoint string) {
	if mc == nil {
		return
	}

	mc.staleDiscards.WithLabelValues(endpoint).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}

	mc.cacheEntries.Set(float64(size))
}

// RecordMutation increments the mutation counter.
func (mc *MetricsCollector) RecordMutation(endpoint string, ok bool) {
	if mc == nil {
		return
	}

	outcome := "success"
	if !ok {
		outcome = "error"
	}
	mc.mutationsTotal.WithLabelValues(endpoint, outcome).Inc()
}
