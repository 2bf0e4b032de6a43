package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	adminRequestsTotal     *prometheus.CounterVec
	adminLatencySeconds    *prometheus.HistogramVec
	adminErrorsTotal       *prometheus.CounterVec
	scoringRequestsTotal   *prometheus.CounterVec
	scoringDurationSeconds *prometheus.HistogramVec
	scoringClampedTotal    prometheus.Counter
	scoringQueueDepth      prometheus.Gauge
	parseCacheTotal        *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the HTTP surface and the engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		adminRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_requests_total",
			Help: "Total number of admin API requests served.",
		}, []string{"method", "route", "status"})

		adminLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admin_latency_seconds",
			Help:    "Latency distribution for admin API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 10, 60},
		}, []string{"method", "route"})

		adminErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_errors_total",
			Help: "Total number of error responses returned by admin endpoints.",
		}, []string{"method", "route", "status"})

		scoringRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scoring_requests_total",
			Help: "Scoring calls by file type and outcome (scored, reused or an error kind).",
		}, []string{"file_type", "outcome"})

		scoringDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scoring_duration_seconds",
			Help:    "End to end duration of single scoring calls.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"file_type"})

		scoringClampedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scoring_clamped_total",
			Help: "Validated LLM responses that needed at least one score clamped.",
		})

		scoringQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scoring_queue_depth",
			Help: "Scoring requests waiting for an LLM slot.",
		})

		parseCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scoring_parse_cache_total",
			Help: "Parse cache lookups by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			adminRequestsTotal,
			adminLatencySeconds,
			adminErrorsTotal,
			scoringRequestsTotal,
			scoringDurationSeconds,
			scoringClampedTotal,
			scoringQueueDepth,
			parseCacheTotal,
		)
	})
}

// AdminRequests exposes the counter for admin requests.
func AdminRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return adminRequestsTotal
}

// AdminLatency exposes the latency histogram for admin requests.
func AdminLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return adminLatencySeconds
}

// AdminErrors exposes the counter for admin error responses.
func AdminErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return adminErrorsTotal
}

// ScoringRequests exposes the per outcome scoring counter.
func ScoringRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return scoringRequestsTotal
}

// ScoringDuration exposes the scoring latency histogram.
func ScoringDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return scoringDurationSeconds
}

// ScoringClamped exposes the clamped response counter.
func ScoringClamped() prometheus.Counter {
	RegisterMetrics()
	return scoringClampedTotal
}

// ScoringQueueDepth exposes the admission queue gauge.
func ScoringQueueDepth() prometheus.Gauge {
	RegisterMetrics()
	return scoringQueueDepth
}

// ParseCacheLookups exposes the parse cache hit/miss counter.
func ParseCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return parseCacheTotal
}
