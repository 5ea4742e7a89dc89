// Package server exposes the read-only HTTP API over the stores and the live
// collector state.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kevinmok/hypertracker/internal/server/handler"
	"github.com/kevinmok/hypertracker/internal/server/middleware"
	"github.com/kevinmok/hypertracker/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Server is the read API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wires the middleware chain.
func NewServer(cfg Config, query *service.Query, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	health := handler.NewHealthHandler(logger)
	signals := handler.NewSignalHandler(query, logger)
	alerts := handler.NewAlertHandler(query, logger)
	traders := handler.NewTraderHandler(query, logger)
	candles := handler.NewCandleHandler(query, logger)
	stats := handler.NewStatsHandler(query, logger)

	mux.HandleFunc("GET /api/health", health.HealthCheck)
	mux.HandleFunc("GET /api/signal/{symbol}", signals.Latest)
	mux.HandleFunc("GET /api/signal/{symbol}/history", signals.History)
	mux.HandleFunc("GET /api/alerts", alerts.Active)
	mux.HandleFunc("GET /api/traders", traders.List)
	mux.HandleFunc("GET /api/traders/{address}", traders.Get)
	mux.HandleFunc("GET /api/traders/{address}/history", traders.History)
	mux.HandleFunc("GET /api/candles/{symbol}", candles.List)
	mux.HandleFunc("GET /api/stats", stats.Stats)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start blocks serving HTTP until an error or shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
