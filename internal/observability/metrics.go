// Package observability provides Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the harvester.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Collection metrics
	SnapshotsCollected prometheus.Counter
	SnapshotsSkipped   *prometheus.CounterVec
	SnapshotErrors     *prometheus.CounterVec
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram

	// Watch list metrics
	TrackedTokens    prometheus.Gauge
	TokensEvicted    prometheus.Counter
	TokensExpired    prometheus.Counter
	ImmediateSamples prometheus.Counter

	// Buffer metrics
	BufferSize    prometheus.Gauge
	FlushWrites   *prometheus.CounterVec
	FlushFailures *prometheus.CounterVec
	FlushRequeued prometheus.Counter

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Dataset health metrics
	QualityScore    prometheus.Gauge
	DriftScore      prometheus.Gauge
	DriftUrgency    prometheus.Gauge
	DriftedFeatures prometheus.Gauge

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_harvester"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		SnapshotsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "snapshots_collected_total",
			Help:      "Total number of snapshots that passed the quality gate",
		}),
		SnapshotsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "snapshots_skipped_total",
			Help:      "Total number of snapshot attempts skipped by reason",
		}, []string{"reason"}),
		SnapshotErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "snapshot_errors_total",
			Help:      "Total number of snapshot errors by provider",
		}, []string{"provider"}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycles_total",
			Help:      "Total number of collection cycles by status",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycle_duration_seconds",
			Help:      "Collection cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 240, 300},
		}),

		TrackedTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "tracked_tokens",
			Help:      "Current number of tracked tokens",
		}),
		TokensEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "evicted_total",
			Help:      "Total number of tokens evicted by the capacity limit",
		}),
		TokensExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "expired_total",
			Help:      "Total number of tokens removed after their watch window",
		}),
		ImmediateSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "immediate_samples_total",
			Help:      "Total number of out-of-cadence samples triggered by events",
		}),

		BufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "size",
			Help:      "Current number of snapshots waiting to be flushed",
		}),
		FlushWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "writes_total",
			Help:      "Total number of rows written by flushes",
		}, []string{"store"}),
		FlushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "write_failures_total",
			Help:      "Total number of rows that failed to write",
		}, []string{"store"}),
		FlushRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "requeued_total",
			Help:      "Total number of snapshots returned to the buffer after a store outage",
		}),

		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of upstream requests by provider and status",
		}, []string{"provider", "status"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_latency_seconds",
			Help:      "Upstream request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		QualityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "quality_score",
			Help:      "Overall score of the latest data quality report",
		}),
		DriftScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "drift_score",
			Help:      "Overall drift score of the latest drift report",
		}),
		DriftUrgency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "drift_urgency",
			Help:      "Urgency of the latest drift report (0 none .. 4 critical)",
		}),
		DriftedFeatures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "drifted_features",
			Help:      "Number of drifted features in the latest drift report",
		}),

		LastSuccessfulCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last successful collection cycle",
		}),
	}

	reg.MustRegister(
		m.SnapshotsCollected, m.SnapshotsSkipped, m.SnapshotErrors, m.CyclesTotal, m.CycleDuration,
		m.TrackedTokens, m.TokensEvicted, m.TokensExpired, m.ImmediateSamples,
		m.BufferSize, m.FlushWrites, m.FlushFailures, m.FlushRequeued,
		m.ProviderRequests, m.ProviderLatency,
		m.QualityScore, m.DriftScore, m.DriftUrgency, m.DriftedFeatures,
		m.LastSuccessfulCycle,
	)
	return m
}

// Handler returns an HTTP handler for the /metrics endpoint of g.
// A nil g serves the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordSnapshot counts a snapshot kept by the collector.
func (m *Metrics) RecordSnapshot() {
	if m == nil {
		return
	}
	m.SnapshotsCollected.Inc()
}

// RecordSkip counts a skipped snapshot attempt.
func (m *Metrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.SnapshotsSkipped.WithLabelValues(reason).Inc()
}

// RecordProviderError counts a failed provider call.
func (m *Metrics) RecordProviderError(provider string) {
	if m == nil {
		return
	}
	m.SnapshotErrors.WithLabelValues(provider).Inc()
}

// RecordCycle records a finished collection cycle.
func (m *Metrics) RecordCycle(status string, d time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(d.Seconds())
	if status == "ok" {
		m.LastSuccessfulCycle.Set(float64(finishedAt.Unix()))
	}
}

// SetTracked updates the tracked tokens gauge.
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.TrackedTokens.Set(float64(n))
}

// RecordEvicted counts tokens evicted by the capacity limit.
func (m *Metrics) RecordEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensEvicted.Add(float64(n))
}

// RecordExpired counts tokens removed after their watch window.
func (m *Metrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensExpired.Add(float64(n))
}

// RecordImmediateSample counts an event-triggered sample.
func (m *Metrics) RecordImmediateSample() {
	if m == nil {
		return
	}
	m.ImmediateSamples.Inc()
}

// SetBufferSize updates the buffer size gauge.
func (m *Metrics) SetBufferSize(n int) {
	if m == nil {
		return
	}
	m.BufferSize.Set(float64(n))
}

// RecordFlush records the outcome of one flush against a store.
func (m *Metrics) RecordFlush(store string, written, failed int) {
	if m == nil {
		return
	}
	m.FlushWrites.WithLabelValues(store).Add(float64(written))
	m.FlushFailures.WithLabelValues(store).Add(float64(failed))
}

// RecordRequeued counts snapshots returned to the buffer.
func (m *Metrics) RecordRequeued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FlushRequeued.Add(float64(n))
}

// RecordProviderRequest records one upstream request.
func (m *Metrics) RecordProviderRequest(provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, status).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordQuality publishes the latest quality score.
func (m *Metrics) RecordQuality(score float64) {
	if m == nil {
		return
	}
	m.QualityScore.Set(score)
}

// RecordDrift publishes the latest drift report summary.
func (m *Metrics) RecordDrift(score float64, urgencyRank, drifted int) {
	if m == nil {
		return
	}
	m.DriftScore.Set(score)
	m.DriftUrgency.Set(float64(urgencyRank))
	m.DriftedFeatures.Set(float64(drifted))
}
