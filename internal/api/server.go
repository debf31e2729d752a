// Package api serves a read-only HTTP view of a running session: jobs,
// builtins, and loaded modules. It exists for tooling (the watch TUI, shell
// scripts) and never mutates shell state.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/galeshell/gale/internal/builtin"
	"github.com/galeshell/gale/internal/job"
	"github.com/galeshell/gale/internal/modload"
)

// JobReader is the view of the job table the API needs.
type JobReader interface {
	Jobs() []job.Info
	Info(id job.ID) (job.Info, error)
	Output(id job.ID) (stdout, stderr []byte, err error)
	ScanForCompletion(teardown bool)
}

// BuiltinLister lists registered builtins.
type BuiltinLister interface {
	Entries() []builtin.EntryInfo
}

// ModuleLister lists loaded modules.
type ModuleLister interface {
	Loaded() []modload.ModuleInfo
}

// Config holds API server configuration.
type Config struct {
	Listen    string
	Key       string
	SessionID string
}

// Server is the HTTP status API.
type Server struct {
	config    Config
	jobs      JobReader
	builtins  BuiltinLister
	modules   ModuleLister
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a server over the given session views.
func New(config Config, jobs JobReader, builtins BuiltinLister, modules ModuleLister, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		jobs:      jobs,
		builtins:  builtins,
		modules:   modules,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the server until ctx is cancelled, then shuts it down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("status API starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/v1/status", s.handleStatus)
		r.Get("/v1/jobs", s.handleJobs)
		r.Get("/v1/jobs/{jobID}", s.handleJob)
		r.Get("/v1/jobs/{jobID}/output", s.handleJobOutput)
		r.Get("/v1/builtins", s.handleBuiltins)
		r.Get("/v1/modules", s.handleModules)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
