package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the operator HTTP API of a worker node
type Server struct {
	httpServer *http.Server
	router     chi.Router
	version    string
	token      string
	logger     *slog.Logger

	documents driving.DocumentService
	search    driving.SearchService
	schedules driving.ScheduleService
	taskQueue driven.TaskQueue

	// readiness checks by name
	checks map[string]Pinger
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string
	// Token is the bearer token required on /api routes; empty disables auth
	Token  string
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Services holds what the API serves. Nil services leave their routes unmounted.
type Services struct {
	Documents driving.DocumentService
	Search    driving.SearchService
	Schedules driving.ScheduleService
	TaskQueue driven.TaskQueue
	// Checks are pinged by /ready
	Checks map[string]Pinger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:    chi.NewRouter(),
		version:   cfg.Version,
		token:     cfg.Token,
		logger:    logger,
		documents: svc.Documents,
		search:    svc.Search,
		schedules: svc.Schedules,
		taskQueue: svc.TaskQueue,
		checks:    svc.Checks,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(NewLoggingMiddleware(s.logger).Handler)
	r.Use(NewRecoveryMiddleware(s.logger).Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/version", s.handleVersion)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(NewTokenMiddleware(s.token).Authenticate)
		api.Use(middleware.Timeout(25 * time.Second))

		if s.taskQueue != nil {
			api.Get("/queue/stats", s.handleQueueStats)
			api.Get("/tasks", s.handleListTasks)
			api.Get("/tasks/{id}", s.handleGetTask)
			api.Delete("/tasks/{id}", s.handleCancelTask)
		}

		if s.documents != nil {
			api.Route("/documents/{id}", func(doc chi.Router) {
				doc.Get("/", s.handleGetDocument)
				doc.Get("/download", s.handleDownloadDocument)
				doc.Get("/costs", s.handleDocumentCosts)
				doc.Post("/ingest", s.handleIngestDocument)
				doc.Post("/regenerate", s.handleRegenerateDocument)
			})
			api.Get("/workspaces/{id}/costs", s.handleWorkspaceCosts)
		}

		if s.search != nil {
			api.Post("/workspaces/{id}/search", s.handleSearch)
		}

		if s.schedules != nil {
			api.Get("/schedules", s.handleListSchedules)
			api.Put("/schedules/{id}", s.handleUpdateSchedule)
			api.Post("/schedules/{id}/trigger", s.handleTriggerSchedule)
		}
	})
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
