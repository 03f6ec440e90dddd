// Package http is the JSON API: trigger a pass, read a period summary and
// list delivered insights.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ledgerlens/internal/core"
	"ledgerlens/internal/engine"
	"ledgerlens/internal/log"
	"ledgerlens/internal/middleware/ratelimit"
	"ledgerlens/internal/middleware/security"
	"ledgerlens/internal/middleware/trace"
)

// Engine is the slice of engine.Engine the API drives.
type Engine interface {
	RunPass(ctx context.Context, userID string) (engine.PassResult, error)
	Summary(ctx context.Context, userID string, period core.Period) (core.Insight, error)
	Config() engine.Config
}

// InsightLister reads delivered insights, newest first.
type InsightLister interface {
	ListInsights(ctx context.Context, userID string, limit int) ([]core.Insight, error)
}

// Pinger is checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	engine   Engine
	insights InsightLister
	ready    Pinger
	limiter  *ratelimit.Limiter
	logger   *log.Logger
	now      func() time.Time

	shutdownOnce sync.Once
}

type Option func(*Server)

// WithReadiness makes /readyz depend on p.
func WithReadiness(p Pinger) Option {
	return func(s *Server) { s.ready = p }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l.WithComponent(log.ComponentHTTP) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, e Engine, insights InsightLister, opts ...Option) *Server {
	s := &Server{
		engine:   e,
		insights: insights,
		logger:   log.New(log.DefaultConfig()).WithComponent(log.ComponentHTTP),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("POST /users/{id}/passes",
		s.limiter.Middleware(rateLimited)(http.HandlerFunc(s.handleRunPass)))
	mux.HandleFunc("GET /users/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /users/{id}/insights", s.handleInsights)

	var h http.Handler = mux
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = s.withRequestLogging(h)
	h = trace.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Limiter exposes the pass limiter so its idle clients can be swept.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lg := s.logger.With(log.FieldRequestID, trace.GetRequestID(r.Context()))
		log.Middleware(lg)(next).ServeHTTP(w, r)
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
	})
	return err
}
