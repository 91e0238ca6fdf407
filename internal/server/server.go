// Package server exposes the support pipeline to Slack's Events API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantumflow/supportflow/internal/integration"
	"github.com/quantumflow/supportflow/internal/models"
)

// Processor runs one message through the pipeline
type Processor interface {
	Process(ctx context.Context, msg *models.Message) *models.WorkflowState
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config holds the server's dependencies. Health checks are optional.
type Config struct {
	Addr            string
	SigningSecret   string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	MaxConcurrent   int
	Version         string

	Processor Processor
	Checks    map[string]HealthChecker
	Logger    *slog.Logger
}

// Server is the Slack-facing HTTP server
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
	shutdown   time.Duration
}

// New creates a server with all routes configured
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}

	h := &Handlers{
		processor: cfg.Processor,
		verifier:  integration.NewSignatureVerifier(cfg.SigningSecret),
		checks:    cfg.Checks,
		logger:    cfg.Logger,
		version:   cfg.Version,
		maxBody:   cfg.MaxBodyBytes,
		slots:     make(chan struct{}, cfg.MaxConcurrent),
		seen:      newEventDedup(10 * time.Minute),
		baseCtx:   context.Background(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /slack/events", h.HandleSlackEvents)
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// request ID → tracing → logging → recovery → handler
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
		shutdown: cfg.ShutdownTimeout,
	}
}

// Handler returns the root HTTP handler for use in tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains HTTP connections and
// in-flight pipeline runs.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.handlers.baseCtx = context.WithoutCancel(ctx)

	g.Go(func() error {
		s.logger.Info("http server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("http server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()

		var errs []error
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := s.handlers.Wait(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for in-flight messages: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// eventDedup remembers Slack event ids so redeliveries are processed once
type eventDedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func newEventDedup(ttl time.Duration) *eventDedup {
	return &eventDedup{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

// firstSeen records id and reports whether it was new
func (d *eventDedup) firstSeen(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = now
	return true
}

// forget drops id so a later delivery is treated as new
func (d *eventDedup) forget(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}
