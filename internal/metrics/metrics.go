// Package metrics exposes Prometheus collectors for the broadcast hub and its
// WebSocket transport.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coedit"

// Metrics holds every collector coedit reports. Each instance owns its own
// registry so several hubs can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	connections        prometheus.Gauge
	participants       prometheus.Gauge
	events             *prometheus.CounterVec
	broadcasts         *prometheus.CounterVec
	skippedDeliveries  prometheus.Counter
	malformedMessages  prometheus.Counter
	rateLimitedMessage prometheus.Counter
	activityLogEntries prometheus.Gauge
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "The number of registered connections.",
		}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "participants",
			Help:      "The number of connections that identified themselves with a user event.",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_total",
			Help:      "The number of events processed by the hub loop.",
		}, []string{"type"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "The number of snapshots fanned out.",
		}, []string{"type"}),
		skippedDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "skipped_deliveries_total",
			Help:      "The number of snapshot deliveries skipped because a recipient refused the push.",
		}),
		malformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "malformed_messages_total",
			Help:      "The number of inbound messages dropped because they could not be decoded.",
		}),
		rateLimitedMessage: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rate_limited_messages_total",
			Help:      "The number of inbound messages dropped by the per-connection rate limiter.",
		}),
		activityLogEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "activity_log_entries",
			Help:      "The length of the shared activity log.",
		}),
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetConnections sets the number of registered connections.
func (m *Metrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}

// SetParticipants sets the number of identified participants.
func (m *Metrics) SetParticipants(n int) {
	m.participants.Set(float64(n))
}

// SetActivityLogEntries sets the activity log length.
func (m *Metrics) SetActivityLogEntries(n int) {
	m.activityLogEntries.Set(float64(n))
}

// AddEvent counts an event of the given type handled by the hub loop.
func (m *Metrics) AddEvent(eventType string) {
	m.events.WithLabelValues(eventType).Inc()
}

// AddBroadcast counts a fan-out of a snapshot of the given type.
func (m *Metrics) AddBroadcast(snapshotType string) {
	m.broadcasts.WithLabelValues(snapshotType).Inc()
}

// AddSkippedDelivery counts one recipient skipped during a fan-out.
func (m *Metrics) AddSkippedDelivery() {
	m.skippedDeliveries.Inc()
}

// AddMalformedMessage counts one dropped undecodable message.
func (m *Metrics) AddMalformedMessage() {
	m.malformedMessages.Inc()
}

// AddRateLimitedMessage counts one message dropped by the rate limiter.
func (m *Metrics) AddRateLimitedMessage() {
	m.rateLimitedMessage.Inc()
}
