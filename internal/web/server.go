// Package web exposes the service over HTTP: the OAuth login flow, the
// refresh trigger, a status endpoint and prometheus metrics.
package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tmcgrath/racebrief/internal/metrics"
	"github.com/tmcgrath/racebrief/internal/reconcile"
	"github.com/tmcgrath/racebrief/internal/store"
	"github.com/tmcgrath/racebrief/internal/yoto"
)

// ServerConfig holds server wiring.
type ServerConfig struct {
	Addr      string
	Yoto      *yoto.Client
	Identity  *store.Identity
	Refresher *reconcile.Service
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Server is the HTTP server for the service.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	log      zerolog.Logger
}

// NewServer creates the HTTP server.
func NewServer(cfg ServerConfig) *Server {
	handlers := NewHandlers(cfg.Yoto, cfg.Identity, cfg.Refresher, cfg.Logger)

	router := chi.NewRouter()
	s := &Server{
		router:   router,
		handlers: handlers,
		log:      cfg.Logger,
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.Recoverer)

	router.Get("/", handlers.Status)
	router.Get("/auth/login", handlers.Login)
	router.Get("/callback", handlers.Callback)
	router.Post("/auth/logout", handlers.Logout)
	router.Post("/refresh", handlers.Refresh)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // refresh blocks on transcode polling
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Info().Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// requestLogger logs one line per request through zerolog.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}
