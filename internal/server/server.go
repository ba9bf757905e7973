// Package server exposes the settlement service over HTTP: the settle
// endpoint, ledger lookups, and the provider webhook.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/soundlease/payrail/internal/ledger"
	"github.com/soundlease/payrail/internal/metrics"
	"github.com/soundlease/payrail/internal/settle"
	"github.com/soundlease/payrail/internal/webhook"
)

// Config configures the HTTP server.
type Config struct {
	Logger   *slog.Logger
	Service  *settle.Service
	Ledger   ledger.Store
	Webhook  *webhook.Handler
	Addr     string
	APIRate  rate.Limit
	APIBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Service == nil {
		return errors.New("settlement service is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger store is required")
	}
	if cfg.Webhook == nil {
		return errors.New("webhook handler is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.APIRate == 0 {
		// 300 requests/minute with a burst of 20.
		cfg.APIRate = rate.Every(time.Minute / 300)
	}
	if cfg.APIBurst == 0 {
		cfg.APIBurst = 20
	}
	return nil
}

// Server is the HTTP server for the settlement service.
type Server struct {
	router  *chi.Mux
	cfg     Config
	log     *slog.Logger
	limiter *RateLimiter
	srv     *http.Server
}

// New creates the HTTP server and wires up routes.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		log:     cfg.Logger,
		limiter: NewRateLimiter(cfg.APIRate, cfg.APIBurst),
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Instrument)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*.soundlease.com"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/settlements", s.handleCreateSettlement)
		r.Get("/settlements", s.handleLookupSettlement)
		r.Get("/settlements/{id}", s.handleGetSettlement)
	})

	// Webhooks are authenticated by signature, not rate limited: dropping
	// legitimate provider callbacks only causes retry storms.
	s.router.Post("/webhooks/transfers", s.cfg.Webhook.ServeHTTP)

	s.router.Get("/health", s.handleHealth)
}

// requestLogger logs each request with duration via slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http: request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// Start begins serving and blocks until the context is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http: server listening", "address", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }
