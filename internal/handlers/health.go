package handlers

import (
	"context"
	"net/http"
	"time"

	"credential-authorizer/internal/models"

	"go.uber.org/zap"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the service and its dependencies are up.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a health handler probing deps by name.
func NewHealthHandler(deps map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

// HandleHealth handles GET /health
// @Summary     Health check endpoint
// @Description Returns ok if the service and its dependencies are reachable
// @Tags        health
// @Produce     application/json
// @Success     200  {object}  models.HealthResponse
// @Failure     503  {object}  models.HealthResponse
// @Router      /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			sendJSON(w, http.StatusServiceUnavailable, models.HealthResponse{Status: name + " unavailable"})
			return
		}
	}
	sendJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}
