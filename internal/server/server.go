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
	"golang.org/x/time/rate"

	"opsgate/internal/deployment"
	"opsgate/internal/environment"
	"opsgate/internal/history"
)

const (
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	RequestTimeout = 30 * time.Second

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

// StatusSource produces the combined overview.
type StatusSource interface {
	Status(ctx context.Context) (*deployment.Overview, error)
}

// HistoryIndex answers per-environment queries and outcome counts.
type HistoryIndex interface {
	GetEnvironmentStatus(ctx context.Context, environment string, limit int) (*history.EnvironmentStatus, error)
	CountByStatus(ctx context.Context) (map[string]map[string]int, error)
}

// Options configures a Server. History may be nil.
type Options struct {
	Envs      *environment.Registry
	Status    StatusSource
	History   HistoryIndex
	Mode      deployment.ModeStatus
	Stop      deployment.StopFlag
	RateLimit float64
	RateBurst int
	// TestMode disables rate limiting.
	TestMode bool
	Logger   *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	opts    Options
	metrics *Metrics
}

// NewServer creates a new server instance
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{opts: opts, metrics: NewMetrics(opts.History, opts.Mode, opts.Stop, opts.Logger)}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				route := chi.RouteContext(r.Context()).RoutePattern()
				if route == "" {
					route = "unmatched"
				}
				s.metrics.ObserveRequest(r.Method, route, ww.Status())
				s.opts.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"request_id", middleware.GetReqID(r.Context()),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	if !s.opts.TestMode {
		r.Use(NewRateLimitMiddleware(rate.Limit(s.opts.RateLimit), s.opts.RateBurst, s.opts.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleOverview)
	r.Get("/status/{environment}", s.HandleStatus)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// ListenAndServe serves on host:port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.opts.Logger.Info("Starting server", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.opts.Logger.Info("Shutting down server", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
