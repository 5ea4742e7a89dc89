package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kevinmok/hypertracker/internal/domain"
	"github.com/kevinmok/hypertracker/internal/service"
)

// TraderHandler serves the tracked-trader endpoints.
type TraderHandler struct {
	query  *service.Query
	logger *slog.Logger
}

// NewTraderHandler creates a TraderHandler.
func NewTraderHandler(query *service.Query, logger *slog.Logger) *TraderHandler {
	return &TraderHandler{query: query, logger: logger}
}

// List returns tracked traders ordered by account value.
// GET /api/traders
func (h *TraderHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.query.Traders(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list traders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(snaps),
		"traders": snaps,
	})
}

// Get returns the current state for one address.
// GET /api/traders/{address}
func (h *TraderHandler) Get(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	snap, err := h.query.Trader(r.Context(), address)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBadAddress):
			writeError(w, http.StatusBadRequest, "malformed address")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "trader not tracked")
		default:
			h.logger.Error("get trader failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// History returns the snapshot history for one address, newest first.
// GET /api/traders/{address}/history
func (h *TraderHandler) History(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	snaps, err := h.query.TraderHistory(r.Context(), address, parseListOpts(r))
	if err != nil {
		if errors.Is(err, domain.ErrBadAddress) {
			writeError(w, http.StatusBadRequest, "malformed address")
			return
		}
		h.logger.Error("trader history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   address,
		"count":     len(snaps),
		"snapshots": snaps,
	})
}
