package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcoot/partyrelay/internal/api/response"
	"github.com/mcoot/partyrelay/internal/logger"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health check
type HealthHandler struct {
	storage Pinger
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(storage Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Check handles GET /api/v1/health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", logger.Err(err))
		response.JSON(w, http.StatusServiceUnavailable, response.Health{Status: "unavailable", Storage: "unreachable"})
		return
	}

	response.JSON(w, http.StatusOK, response.Health{Status: "ok"})
}
