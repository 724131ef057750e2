package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker is an optional dependency check, such as the generation sidecar.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db         Pinger
	generation HealthChecker
}

// NewHealthHandler creates a new health handler. generation may be nil.
func NewHealthHandler(db Pinger, generation HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, generation: generation}
}

// Health returns the health status of the API and its dependencies. The
// database is required; a down generation sidecar only degrades replies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	switch {
	case h.generation == nil:
		checks["generation"] = "fallback"
	case h.generation.Health(ctx) != nil:
		checks["generation"] = "unreachable"
		if statusCode == http.StatusOK {
			status = "degraded"
		}
	default:
		checks["generation"] = "ok"
	}

	JSON(w, statusCode, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
