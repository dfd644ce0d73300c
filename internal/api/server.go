// Package api provides the REST, SSE and websocket control surface for storyloop.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/storyloop/internal/db"
	"github.com/randalmurphal/storyloop/internal/prd"
	"github.com/randalmurphal/storyloop/internal/session"
	"github.com/randalmurphal/storyloop/internal/workspace"
)

// DefaultKeepAlive is the SSE comment interval when none is configured.
const DefaultKeepAlive = 15 * time.Second

// Store is the persistence the API reads from.
type Store interface {
	LoadPRD(ctx context.Context, taskID string) (*prd.Document, error)
	SavePRD(ctx context.Context, doc *prd.Document) error
	ListIterations(ctx context.Context, taskID string) ([]db.IterationRecord, error)
	ListFailures(ctx context.Context, taskID string) ([]db.FailureSnapshot, error)
}

// Workspaces manages isolated checkouts.
type Workspaces interface {
	CreateWorkspace(ctx context.Context, taskID string) (*workspace.Info, error)
	RemoveWorkspace(ctx context.Context, id string) error
	ListWorkspaces(ctx context.Context) ([]workspace.Info, error)
}

// Terminal forwards interactive input to a running agent.
type Terminal interface {
	Write(sessionID string, data []byte) error
	Resize(sessionID string, cols, rows uint16) error
	Output(sessionID string) string
}

// Config holds server configuration.
type Config struct {
	Addr string
	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
	Logger    *slog.Logger

	Sessions   *session.Registry
	Store      Store
	Workspaces Workspaces
	Terminal   Terminal
}

// Server is the storyloop API server.
type Server struct {
	addr      string
	keepAlive time.Duration
	logger    *slog.Logger

	sessions   *session.Registry
	store      Store
	workspaces Workspaces
	terminal   Terminal

	router   chi.Router
	upgrader websocket.Upgrader
}

// New creates a new API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	s := &Server{
		addr:       cfg.Addr,
		keepAlive:  keepAlive,
		logger:     logger,
		sessions:   cfg.Sessions,
		store:      cfg.Store,
		workspaces: cfg.Workspaces,
		terminal:   cfg.Terminal,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The server binds to a local address; any origin may attach.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.handleListSessions)
		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleEvictSession)

			r.Post("/initialize", s.handleInitialize)
			r.Post("/prd-wizard", s.handlePrdWizard)
			r.Post("/prd", s.handleGeneratePRD)
			r.Get("/prd", s.handleGetPRD)
			r.Put("/prd", s.handleImportPRD)
			r.Post("/approve", s.handleApprove)
			r.Post("/execute", s.handleExecute)
			r.Post("/planning", s.handlePlanning)
			r.Post("/coding", s.handleCoding)
			r.Post("/stop", s.handleStop)
			r.Post("/complete", s.handleComplete)

			r.Get("/iterations", s.handleListIterations)
			r.Get("/failures", s.handleListFailures)
			r.Get("/stream", s.handleStream)
			r.Get("/terminal", s.handleTerminal)
		})

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", s.handleListWorkspaces)
			r.Post("/", s.handleCreateWorkspace)
			r.Delete("/{id}", s.handleRemoveWorkspace)
		})
	})

	s.router = r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartContext serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) StartContext(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", s.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

// requestLogger logs method, path, status and duration per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
