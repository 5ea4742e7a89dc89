package handler

import (
	"log/slog"
	"net/http"

	"github.com/kevinmok/hypertracker/internal/service"
)

// CandleHandler serves the candle endpoints.
type CandleHandler struct {
	query  *service.Query
	logger *slog.Logger
}

// NewCandleHandler creates a CandleHandler.
func NewCandleHandler(query *service.Query, logger *slog.Logger) *CandleHandler {
	return &CandleHandler{query: query, logger: logger}
}

// List returns candles for a symbol, newest first. The interval defaults to
// one minute.
// GET /api/candles/{symbol}?interval=1m0s
func (h *CandleHandler) List(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1m0s"
	}

	candles, err := h.query.Candles(r.Context(), symbol, interval, parseListOpts(r))
	if err != nil {
		h.logger.Error("list candles failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"interval": interval,
		"candles":  candles,
	})
}
