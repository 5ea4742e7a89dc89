package handler

import (
	"log/slog"
	"net/http"

	"github.com/kevinmok/hypertracker/internal/service"
)

// AlertHandler serves the whale-alert endpoints.
type AlertHandler struct {
	query  *service.Query
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(query *service.Query, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{query: query, logger: logger}
}

// Active returns the unexpired whale alerts.
// GET /api/alerts
func (h *AlertHandler) Active(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.query.ActiveAlerts(r.Context())
	if err != nil {
		h.logger.Error("active alerts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(alerts),
		"alerts": alerts,
	})
}
