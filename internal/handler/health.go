package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports liveness of a dependency without an error detail.
type HealthChecker interface {
	Healthy() bool
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store  Pinger
	events HealthChecker
}

func NewHealthHandler(store Pinger, events HealthChecker) *HealthHandler {
	return &HealthHandler{store: store, events: events}
}

// Health handles GET /health. Always OK while the process is up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready. Storage must be reachable; the event bus is
// reported but not required, since the orchestrator degrades without it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{
		"store":  "ok",
		"events": "ok",
	}
	status := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if !h.events.Healthy() {
		checks["events"] = "unavailable"
	}

	writeJSON(w, status, map[string]interface{}{
		"status": http.StatusText(status),
		"checks": checks,
	})
}
