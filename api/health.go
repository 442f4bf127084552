package api

import (
	"net/http"

	"github.com/studioml/beacon/internal/config"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	cfg *config.Config
}

// NewHealthHandler creates a health handler over the loaded configuration.
func NewHealthHandler(cfg *config.Config) *HealthHandler {
	return &HealthHandler{cfg: cfg}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness returns 200 if the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness returns 200 when the guard can do useful work: the signing
// secret must be present or every request would be rejected.
func (h *HealthHandler) readiness(w http.ResponseWriter, _ *http.Request) {
	if h.cfg.TelemetrySecret == "" {
		http.Error(w, "telemetry secret not configured", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
