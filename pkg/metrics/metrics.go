// Package metrics exposes tutor client counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Phases lists every session phase label, so the phase gauge can be
// zeroed for all but the current one.
var Phases = []string{"idle", "listening", "thinking", "speaking"}

// Metrics holds all Prometheus metrics for a session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SegmentsTotal   *prometheus.CounterVec
	SegmentDuration prometheus.Histogram
	SegmentBytes    prometheus.Histogram
	MessagesTotal   *prometheus.CounterVec
	PlaybackTotal   *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	Phase           *prometheus.GaugeVec
	Connected       prometheus.Gauge
	ConnectionsLost prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// New creates a Metrics instance on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tutor"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SegmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_total",
				Help:      "Finalized speech segments by outcome",
			},
			[]string{"outcome"},
		),
		SegmentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "segment_duration_seconds",
				Help:      "Duration of speech segments sent to the server",
				Buckets:   []float64{0.3, 0.5, 1, 2, 4, 8, 15, 30},
			},
		),
		SegmentBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "segment_bytes",
				Help:      "Encoded size of speech segments sent to the server",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 10),
			},
		),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Server messages received by type",
			},
			[]string{"type"},
		),
		PlaybackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playback_total",
				Help:      "Spoken replies by result",
			},
			[]string{"result"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Session phase transitions",
			},
			[]string{"from", "to"},
		),
		Phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase",
				Help:      "1 for the current session phase, 0 otherwise",
			},
			[]string{"phase"},
		),
		Connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connected",
				Help:      "1 while the session connection is open",
			},
		),
		ConnectionsLost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_lost_total",
				Help:      "Open connections that closed",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors surfaced to the user by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.SegmentsTotal,
		m.SegmentDuration,
		m.SegmentBytes,
		m.MessagesTotal,
		m.PlaybackTotal,
		m.Transitions,
		m.Phase,
		m.Connected,
		m.ConnectionsLost,
		m.ErrorsTotal,
	)

	for _, p := range Phases {
		m.Phase.WithLabelValues(p).Set(0)
	}
	m.Phase.WithLabelValues("idle").Set(1)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSegment records a finalized segment.
func (m *Metrics) RecordSegment(outcome string, d time.Duration, bytes int) {
	if m == nil {
		return
	}
	m.SegmentsTotal.WithLabelValues(outcome).Inc()
	if outcome == "sent" {
		m.SegmentDuration.Observe(d.Seconds())
		m.SegmentBytes.Observe(float64(bytes))
	}
}

// RecordMessage records an inbound server message.
func (m *Metrics) RecordMessage(msgType string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(msgType).Inc()
}

// RecordPlayback records how a reply ended.
func (m *Metrics) RecordPlayback(result string) {
	if m == nil {
		return
	}
	m.PlaybackTotal.WithLabelValues(result).Inc()
}

// RecordTransition records a phase change and updates the phase gauge.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.Phase.WithLabelValues(from).Set(0)
	m.Phase.WithLabelValues(to).Set(1)
}

// RecordConnection records the connection opening or closing.
func (m *Metrics) RecordConnection(open bool) {
	if m == nil {
		return
	}
	if open {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
	m.ConnectionsLost.Inc()
}

// RecordError records an error surfaced to the user.
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}
