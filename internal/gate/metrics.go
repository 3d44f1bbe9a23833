package gate

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for gate evaluation.
type Metrics struct {
	EvaluationsTotal   *prometheus.CounterVec
	ChecksTotal        *prometheus.CounterVec
	CheckTimeoutsTotal *prometheus.CounterVec
	CheckDuration      *prometheus.HistogramVec
	RateLimitedTotal   prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheSize        prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for gate evaluation.
//
// sync.Once guards registration so repeated construction cannot panic with
// a duplicate-collector error. All metrics are prefixed with "gate_".
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			EvaluationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gate_evaluations_total",
					Help: "Total number of gate evaluations",
				},
				[]string{"outcome"}, // "pass", "fail", "replayed"
			),

			ChecksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gate_checks_total",
					Help: "Total number of leaf checks executed",
				},
				[]string{"kind"}, // "typecheck", "tests", "memory", "traceability", "evidence"
			),

			CheckTimeoutsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gate_check_timeouts_total",
					Help: "Total number of leaf check command timeouts",
				},
				[]string{"kind"},
			),

			CheckDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "gate_check_duration_seconds",
					Help:    "Duration of leaf check execution in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.4m
				},
				[]string{"kind"},
			),

			RateLimitedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "gate_rate_limited_total",
					Help: "Total number of gate checks replayed within the enforcement cooldown",
				},
			),

			CacheHitsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "gate_check_cache_hits_total",
					Help: "Total number of check result cache hits",
				},
			),

			CacheMissesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "gate_check_cache_misses_total",
					Help: "Total number of check result cache misses",
				},
			),

			CacheSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "gate_check_cache_size",
					Help: "Current number of cached check results",
				},
			),
		}
	})

	return globalMetrics
}

// RecordEvaluation records one finished evaluation.
func (m *Metrics) RecordEvaluation(outcome string) {
	m.EvaluationsTotal.WithLabelValues(outcome).Inc()
}

// RecordCheck records one executed leaf check with its duration.
func (m *Metrics) RecordCheck(kind string, durationSeconds float64) {
	m.ChecksTotal.WithLabelValues(kind).Inc()
	m.CheckDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordCheckTimeout records a command check that hit its timeout.
func (m *Metrics) RecordCheckTimeout(kind string) {
	m.CheckTimeoutsTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimited records a replayed result.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// RecordCacheHit records a check cache hit.
func (m *Metrics) RecordCacheHit() {
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a check cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMissesTotal.Inc()
}

// SetCacheSize updates the cache size gauge.
func (m *Metrics) SetCacheSize(size int) {
	m.CacheSize.Set(float64(size))
}
