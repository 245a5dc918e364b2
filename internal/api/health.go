package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HealthBackend is the slice of the queue layer the health endpoint needs.
type HealthBackend interface {
	HealthCheck(ctx context.Context) error
	AnyWorkerAlive(ctx context.Context) (bool, error)
}

// HealthHandler reports component health for the service.
type HealthHandler struct {
	backend HealthBackend
	version string
	started time.Time
	log     zerolog.Logger
}

func NewHealthHandler(backend HealthBackend, version string, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		backend: backend,
		version: version,
		started: time.Now(),
		log:     log.With().Str("handler", "health").Logger(),
	}
}

// Routes registers the health endpoints.
func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ping", h.Ping)
}

// HealthResponse describes the health of each service component.
type HealthResponse struct {
	APIHealthy          bool   `json:"api_healthy"`
	QueueBackendHealthy bool   `json:"queue_backend_healthy"`
	WorkerHealthy       bool   `json:"at_least_one_worker_healthy"`
	Version             string `json:"version"`
	UptimeSeconds       int64  `json:"uptime_seconds"`
}

// Health handles GET /health. Returns 503 when the queue backend is
// unreachable; a missing worker degrades the body but not the status code,
// since queued jobs survive until a worker returns.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		APIHealthy:    true,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	if err := h.backend.HealthCheck(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("queue backend health check failed")
		WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.QueueBackendHealthy = true

	alive, err := h.backend.AnyWorkerAlive(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("worker liveness check failed")
	}
	resp.WorkerHealthy = alive

	WriteJSON(w, http.StatusOK, resp)
}

// Ping handles GET /ping.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}
