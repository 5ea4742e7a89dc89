package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kevinmok/hypertracker/internal/domain"
	"github.com/kevinmok/hypertracker/internal/service"
)

// SignalHandler serves the trading-signal endpoints.
type SignalHandler struct {
	query  *service.Query
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(query *service.Query, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{query: query, logger: logger}
}

// Latest returns the most recent signal for a symbol.
// GET /api/signal/{symbol}
func (h *SignalHandler) Latest(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	sig, err := h.query.LatestSignal(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no signal for symbol")
			return
		}
		h.logger.Error("latest signal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// History returns stored signals for a symbol, newest first.
// GET /api/signal/{symbol}/history
func (h *SignalHandler) History(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	sigs, err := h.query.SignalHistory(r.Context(), symbol, parseListOpts(r))
	if err != nil {
		h.logger.Error("signal history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"signals": sigs,
	})
}
