package realtime

import (
	"net/http"

	"github.com/focusroom/focusroom/go/internal/bus"
)

// HealthStatus describes whether broadcasting currently works.
type HealthStatus struct {
	Healthy         bool     `json:"healthy"`
	Transport       string   `json:"transport"`
	BusReady        bool     `json:"bus_ready"`
	BridgeRunning   bool     `json:"bridge_running"`
	EventsProcessed uint64   `json:"events_processed"`
	Connections     int      `json:"connections"`
	Sessions        int      `json:"sessions"`
	Errors          []string `json:"errors"`
}

// HealthChecker reports liveness and readiness. A process whose bus is down
// stays alive but is reported as not ready.
type HealthChecker struct {
	transport bus.Transport
	bridge    *Bridge
	registry  *Registry
	metrics   MetricsCollector
}

func NewHealthChecker(transport bus.Transport, bridge *Bridge, registry *Registry, metrics MetricsCollector) *HealthChecker {
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &HealthChecker{
		transport: transport,
		bridge:    bridge,
		registry:  registry,
		metrics:   metrics,
	}
}

func (h *HealthChecker) Check() HealthStatus {
	stats := h.registry.Stats()
	status := HealthStatus{
		Healthy:         true,
		Transport:       h.transport.Name(),
		BusReady:        h.transport.Ready(),
		BridgeRunning:   h.bridge.Running(),
		EventsProcessed: h.bridge.Processed(),
		Connections:     stats.TotalConnections,
		Sessions:        stats.ActiveSessions,
		Errors:          []string{},
	}

	if !status.BusReady {
		status.Healthy = false
		status.Errors = append(status.Errors, "bus transport not ready")
	}
	if !status.BridgeRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "bridge not running")
	}

	h.metrics.RecordBusReady(status.BusReady)
	return status
}

// HandleHealth is the liveness probe.
func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady is the readiness probe. It returns 503 while degraded.
func (h *HealthChecker) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Check()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// RegisterRoutes registers the health routes with an HTTP mux
func (h *HealthChecker) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /ready", h.HandleReady)
}
