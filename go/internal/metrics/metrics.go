// Package metrics exposes Prometheus collectors for the session gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "session_gateway"

// Metrics implements realtime.MetricsCollector on Prometheus collectors.
type Metrics struct {
	ActiveConnections   prometheus.Gauge
	ActiveSessions      prometheus.Gauge
	ConnectionsTotal    *prometheus.CounterVec
	ConnectionDuration  prometheus.Histogram
	FramesSent          prometheus.Counter
	SlowClientsEvicted  prometheus.Counter
	BusMessagesReceived *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	BusReady            prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_sessions",
			Help:      "Number of sessions with at least one open connection.",
		}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "WebSocket connection attempts by result (accepted/missing_session/upgrade_failed).",
		}, []string{"result"}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of WebSocket connections in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "frames_enqueued_total",
			Help:      "Event frames queued for delivery to WebSocket clients.",
		}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "slow_clients_evicted_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
		BusMessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_received_total",
			Help:      "Messages received from the broker by status (ok/malformed).",
		}, []string{"status"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events handed to the broker by result.",
		}, []string{"result"}),
		BusReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "ready",
			Help:      "1 if the broker transport is ready, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ActiveSessions,
		m.ConnectionsTotal,
		m.ConnectionDuration,
		m.FramesSent,
		m.SlowClientsEvicted,
		m.BusMessagesReceived,
		m.EventsPublished,
		m.BusReady,
	)
	return m
}

func (m *Metrics) RecordConnectionOpened() {
	m.ActiveConnections.Inc()
	m.ConnectionsTotal.WithLabelValues("accepted").Inc()
}

func (m *Metrics) RecordConnectionClosed(duration time.Duration) {
	m.ActiveConnections.Dec()
	m.ConnectionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordConnectionRejected(reason string) {
	m.ConnectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

func (m *Metrics) RecordBroadcast(recipients int) {
	m.FramesSent.Add(float64(recipients))
}

func (m *Metrics) RecordSlowClientEvicted() {
	m.SlowClientsEvicted.Inc()
}

func (m *Metrics) RecordBusMessage(malformed bool) {
	status := "ok"
	if malformed {
		status = "malformed"
	}
	m.BusMessagesReceived.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordPublish(result string) {
	m.EventsPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBusReady(ready bool) {
	if ready {
		m.BusReady.Set(1)
		return
	}
	m.BusReady.Set(0)
}
