// Package metrics exposes Prometheus metrics for the pulsefeed sampling engine.
//
// A [Metrics] value owns a private registry, so several instances can coexist
// in one process (handy in tests). Every recording method is safe to call on
// a nil *Metrics, which lets the engine record unconditionally while callers
// opt in by passing a non-nil instance.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "pulsefeed"

// Sample outcomes recorded by [Metrics.RecordSample].
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeException = "exception"
	OutcomeNotReady  = "not_ready"
	OutcomeSkipped   = "skipped"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	samples         *prometheus.CounterVec
	sampleDuration  *prometheus.HistogramVec
	transformErrors *prometheus.CounterVec
	ticksSkipped    *prometheus.CounterVec
	attributeWrites *prometheus.CounterVec
	feedsActive     prometheus.Gauge
}

// New creates a [Metrics] registered on a fresh registry. An empty namespace
// defaults to "pulsefeed".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_total",
				Help:      "Total number of samples processed, by outcome",
			},
			[]string{"feed", "outcome"},
		),
		sampleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sample_duration_seconds",
				Help:      "Duration of sampling function calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"feed"},
		),
		transformErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transform_errors_total",
				Help:      "Total number of transform or coercion errors swallowed by attribute handlers",
			},
			[]string{"feed", "attribute"},
		),
		ticksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_skipped_total",
				Help:      "Total number of periodic ticks skipped because the previous execution was still running",
			},
			[]string{"feed"},
		),
		attributeWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribute_writes_total",
				Help:      "Total number of attribute writes",
			},
			[]string{"entity", "attribute"},
		),
		feedsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "feeds_active",
				Help:      "Current number of activated feeds",
			},
		),
	}

	m.registry.MustRegister(
		m.samples,
		m.sampleDuration,
		m.transformErrors,
		m.ticksSkipped,
		m.attributeWrites,
		m.feedsActive,
	)

	return m
}

// RecordSample counts one processed sample for feed with the given outcome.
func (m *Metrics) RecordSample(feed, outcome string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(feed, outcome).Inc()
}

// ObserveSampleDuration records how long a sampling function took.
func (m *Metrics) ObserveSampleDuration(feed string, d time.Duration) {
	if m == nil {
		return
	}
	m.sampleDuration.WithLabelValues(feed).Observe(d.Seconds())
}

// RecordTransformError counts a transform or coercion error.
func (m *Metrics) RecordTransformError(feed, attribute string) {
	if m == nil {
		return
	}
	m.transformErrors.WithLabelValues(feed, attribute).Inc()
}

// RecordTickSkipped counts a periodic tick skipped due to overlap.
func (m *Metrics) RecordTickSkipped(feed string) {
	if m == nil {
		return
	}
	m.ticksSkipped.WithLabelValues(feed).Inc()
}

// RecordAttributeWrite counts an attribute write.
func (m *Metrics) RecordAttributeWrite(entity, attribute string) {
	if m == nil {
		return
	}
	m.attributeWrites.WithLabelValues(entity, attribute).Inc()
}

// FeedActivated increments the active feed gauge.
func (m *Metrics) FeedActivated() {
	if m == nil {
		return
	}
	m.feedsActive.Inc()
}

// FeedDeactivated decrements the active feed gauge.
func (m *Metrics) FeedDeactivated() {
	if m == nil {
		return
	}
	m.feedsActive.Dec()
}

// Registry returns the underlying registry, or nil for a nil *Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the metrics in the Prometheus
// exposition format. A nil *Metrics yields a handler that answers 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
