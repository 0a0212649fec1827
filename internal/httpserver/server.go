// Package httpserver exposes the voxprep engine over HTTP: liveness and
// readiness probes, the Prometheus metrics endpoint, and the per-session
// WebSocket bridge that connects a platform UI to an interview session.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxprep/voxprep/internal/health"
	"github.com/voxprep/voxprep/internal/interview/pipeline"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/internal/session"
	"github.com/voxprep/voxprep/internal/speechctl"
	"github.com/voxprep/voxprep/internal/store"
	"github.com/voxprep/voxprep/pkg/provider/speech"
	"github.com/voxprep/voxprep/pkg/provider/textgen"
)

// Config holds network settings for the server.
type Config struct {
	// ListenAddr is the TCP address to listen on. Default ":8080".
	ListenAddr string

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	return c
}

// Deps are the engine components a running server needs. Provider is
// required; everything else degrades gracefully when absent (no store means
// no persistence, no recognizer/synthesizer means a text-only session
// bridge). SessionConfig, SpeechConfig, and PipelineOptions can be replaced
// at runtime through [Server.UpdateTunables].
type Deps struct {
	// Provider is the text generation backend for the interview pipeline.
	Provider textgen.Provider

	// Recognizer and Synthesizer enable the voice path of the session
	// bridge. Both must be set for a per-session speech controller to be
	// created.
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer

	// Store persists candidate profiles and session summaries. May be nil.
	Store store.Store

	// RecentSummaries is how many prior summaries to read when seeding a
	// session. Zero disables the read path.
	RecentSummaries int

	// SessionConfig configures each session orchestrator.
	SessionConfig session.Config

	// SpeechConfig configures each per-session speech controller.
	SpeechConfig speechctl.Config

	// PipelineOptions are applied to each session's interview pipeline.
	PipelineOptions []pipeline.Option

	// Checkers are evaluated by the /readyz endpoint.
	Checkers []health.Checker
}

// Server is the voxprep HTTP server.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	http    *http.Server

	// mu guards the hot-reloadable session tunables inside deps.
	mu   sync.RWMutex
	deps Deps
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the metrics instance used by the request middleware and
// handed to each session. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a [Server]. The provider dependency is required.
func New(cfg Config, deps Deps, opts ...Option) (*Server, error) {
	if deps.Provider == nil {
		return nil, errors.New("httpserver: textgen provider is required")
	}

	s := &Server{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	health.New(deps.Checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/sessions", s.handleSession)

	s.http = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           observe.Middleware(s.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the server's root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// UpdateTunables replaces the session, speech, and pipeline configuration
// used for sessions started after the call. Sessions already in flight keep
// the values they started with. Used by the config hot-reload path.
func (s *Server) UpdateTunables(sc session.Config, spc speechctl.Config, popts []pipeline.Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps.SessionConfig = sc
	s.deps.SpeechConfig = spc
	s.deps.PipelineOptions = popts
}

func (s *Server) sessionConfig() session.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deps.SessionConfig
}

func (s *Server) speechConfig() speechctl.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deps.SpeechConfig
}

func (s *Server) pipelineOptions() []pipeline.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deps.PipelineOptions
}

// Run serves until ctx is cancelled, then shuts down gracefully. It returns
// nil on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tls := s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
		s.log.Info("http server listening", "addr", s.cfg.ListenAddr, "tls", tls)
		var err error
		if tls {
			err = s.http.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.http.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("httpserver: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpserver: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
