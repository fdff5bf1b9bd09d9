package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/compatscan/internal/engine"
	"github.com/seantiz/compatscan/internal/model"
)

const (
	shutdownTimeout          = 10 * time.Second
	readHeaderTimeout        = 10 * time.Second
	writeTimeout             = 30 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
)

// CompatResolver is the read side of the compatibility resolver.
type CompatResolver interface {
	Lookup(key string) model.BaselineEntry
	Browsers() []string
}

// Config configures the HTTP server.
type Config struct {
	Addr string
	// HeartbeatInterval paces heartbeat events on job event streams.
	HeartbeatInterval time.Duration
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router    *chi.Mux
	sched     *engine.Scheduler
	resolver  CompatResolver
	logger    *slog.Logger
	addr      string
	heartbeat time.Duration
	browsers  map[string]bool
}

// NewServer creates and configures a new HTTP server.
func NewServer(cfg Config, sched *engine.Scheduler, resolver CompatResolver, logger *slog.Logger) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	srv := &Server{
		router:    chi.NewRouter(),
		sched:     sched,
		resolver:  resolver,
		logger:    logger,
		addr:      cfg.Addr,
		heartbeat: cfg.HeartbeatInterval,
		browsers:  make(map[string]bool),
	}
	for _, b := range resolver.Browsers() {
		srv.browsers[b] = true
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/runners", s.handleListRunners)
	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Get("/v1/compat/{feature}", s.handleCompatLookup)

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/result", s.handleGetResult)
		r.Get("/{id}/events", s.handleStreamEvents)
		r.Post("/{id}/cancel", s.handleCancelJob)
		r.Delete("/{id}", s.handleDeleteJob)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts the listener down
// gracefully. Request contexts derive from ctx, so open event streams end
// with it.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server", "cause", context.Cause(ctx))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
