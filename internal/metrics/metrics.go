// Package metrics exposes bridge counters in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Skip reasons used as the "reason" label of SkippedEntries.
const (
	SkipNonNumeric  = "non_numeric"
	SkipEmptyTopic  = "empty_topic"
	SkipRateLimited = "rate_limited"
)

// Metrics holds all bridge metrics. Each instance owns its registry so tests
// and multiple bridges in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	// Publish metrics
	Published      prometheus.Counter
	PublishErrors  prometheus.Counter
	PublishLatency prometheus.Histogram
	SkippedEntries *prometheus.CounterVec // labels: reason

	// Loop metrics
	Ticks   prometheus.Counter
	Entries prometheus.Gauge

	// Source metrics
	SourceConnected   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	ReconnectFailures prometheus.Counter
}

// New creates a metrics instance with all metrics registered, plus the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ntbridge_published_total",
			Help: "Messages accepted by the transport.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ntbridge_publish_errors_total",
			Help: "Messages the transport rejected or timed out on.",
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ntbridge_publish_latency_seconds",
			Help:    "Time spent handing one message to the transport.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		SkippedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ntbridge_skipped_entries_total",
			Help: "Entries not published, by reason.",
		}, []string{"reason"}),

		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ntbridge_ticks_total",
			Help: "Publish loop iterations.",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntbridge_entries",
			Help: "Entries in the last snapshot taken from the source.",
		}),

		SourceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntbridge_source_connected",
			Help: "1 while the telemetry source is connected.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ntbridge_reconnect_attempts_total",
			Help: "Reconnect attempts against the telemetry source.",
		}),
		ReconnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ntbridge_reconnect_failures_total",
			Help: "Reconnect attempts that returned an error.",
		}),
	}

	m.registry.MustRegister(
		m.Published, m.PublishErrors, m.PublishLatency, m.SkippedEntries,
		m.Ticks, m.Entries,
		m.SourceConnected, m.ReconnectAttempts, m.ReconnectFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Pre-create the label values so they export as 0 before the first skip.
	for _, reason := range []string{SkipNonNumeric, SkipEmptyTopic, SkipRateLimited} {
		m.SkippedEntries.WithLabelValues(reason)
	}

	return m
}

// Registry returns the registry backing this instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPublish records one transport publish.
func (m *Metrics) RecordPublish(_ string, latency time.Duration, err error) {
	m.PublishLatency.Observe(latency.Seconds())
	if err != nil {
		m.PublishErrors.Inc()
		return
	}
	m.Published.Inc()
}

// RecordSkip counts an entry the loop did not publish.
func (m *Metrics) RecordSkip(reason string) {
	m.SkippedEntries.WithLabelValues(reason).Inc()
}

// RecordTick records one loop iteration and the size of its snapshot.
func (m *Metrics) RecordTick(entries int) {
	m.Ticks.Inc()
	m.Entries.Set(float64(entries))
}

// RecordReconnect counts a reconnect attempt and its outcome.
func (m *Metrics) RecordReconnect(err error) {
	m.ReconnectAttempts.Inc()
	if err != nil {
		m.ReconnectFailures.Inc()
	}
}

// SetConnected sets the source connectivity gauge.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.SourceConnected.Set(1)
		return
	}
	m.SourceConnected.Set(0)
}
