package handler

import (
	"log/slog"
	"net/http"

	"github.com/kevinmok/hypertracker/internal/service"
)

// StatsHandler serves the collector statistics endpoint.
type StatsHandler struct {
	query  *service.Query
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(query *service.Query, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{query: query, logger: logger}
}

// Stats returns the live collector counters.
// GET /api/stats
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
