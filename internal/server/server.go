// Package server exposes the system's JSON HTTP surface (spec §6): pipeline
// runs, dialogue turns, user memory, and liveness — routed and wrapped the
// way the teacher's chi-based server does it, minus the HTML/HTMX surface
// this system has no use for.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"newsroom/internal/config"
	"newsroom/internal/dialogue"
	"newsroom/internal/memory"
	"newsroom/internal/pipeline"
	"newsroom/internal/runstore"
)

// Server is the HTTP transport in front of the pipeline orchestrator,
// dialogue manager, and user memory store.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	db         *sql.DB
	config     config.Server
	log        *slog.Logger

	pipeline *pipeline.Orchestrator
	dialogue *dialogue.Manager
	memory   *memory.Store
	runs     *runstore.Store

	startedAt time.Time
}

// New builds a Server wired against the already-constructed components; it
// does not start listening (see Start).
func New(db *sql.DB, cfg config.Server, log *slog.Logger, orch *pipeline.Orchestrator, dlg *dialogue.Manager, mem *memory.Store, runs *runstore.Store) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		router:    chi.NewRouter(),
		db:        db,
		config:    cfg,
		log:       log,
		pipeline:  orch,
		dialogue:  dlg,
		memory:    mem,
		runs:      runs,
		startedAt: time.Now().UTC(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.Host + ":" + strconv.Itoa(portOrDefault(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	if s.config.RateLimit.Enabled {
		limit := s.config.RateLimit.RequestsPerMinute
		if limit <= 0 {
			limit = 100
		}
		s.router.Use(middleware.Throttle(limit))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/pipeline", func(r chi.Router) {
		r.Post("/process", s.handlePipelineProcess)
		r.Post("/quick", s.handlePipelineQuick)
		r.Get("/status/{runId}", s.handlePipelineStatus)
	})

	s.router.Post("/chat", s.handleChatTurn)
	s.router.Get("/chat/{sessionId}", s.handleChatGet)
	s.router.Delete("/chat/{sessionId}", s.handleChatDelete)

	s.router.Route("/user/{id}", func(r chi.Router) {
		r.Get("/profile", s.handleGetProfile)
		r.Put("/profile", s.handlePutProfile)
		r.Post("/interaction", s.handlePostInteraction)
		r.Delete("/memory", s.handleDeleteMemory)
	})
}

// Start begins serving and blocks until the context is cancelled, at which
// point it shuts the server down within the configured deadline.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownTimeout := s.config.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func portOrDefault(p int) int {
	if p <= 0 {
		return 8080
	}
	return p
}
