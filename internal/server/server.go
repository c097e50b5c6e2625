// Package server is the scheduling and operator surface of the bot. External
// timers POST to the job routes; everything except the health check sits
// behind the shared-secret auth middleware.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/server/handler"
	"github.com/alanyoungcy/kalshibot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Jobs   *handler.JobsHandler
	Trades *handler.TradesHandler
}

// Server is the headless HTTP API server for the trading pipeline.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain applied.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	authed := http.NewServeMux()

	// Job triggers. The lease inside the runner makes a double trigger a 409,
	// never a double run.
	authed.HandleFunc("POST /api/jobs/{name}", handlers.Jobs.RunJob)

	// Position inspection.
	authed.HandleFunc("GET /api/trades/open", handlers.Trades.ListOpen)
	authed.HandleFunc("GET /api/trades/recent", handlers.Trades.ListRecent)

	mux := http.NewServeMux()
	// Health check sits outside the auth gate so probes need no secret.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("/api/", middleware.Auth(cfg.APIKey)(authed))

	h := middleware.Logging(logger)(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // job routes run the stage inline
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
