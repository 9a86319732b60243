// Package server wires the voice gateway's HTTP surface: the session broker,
// the websocket bridge endpoint, health and metrics. It owns the pieces that
// must be shared process-wide (session registry, live tracker, rate limiter,
// supervisor worker pool) and hands them to the handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/auth"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/bridge"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/config"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/handlers"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/lifecycle"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/metrics"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/mw"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/ratelimit"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/sessions"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/speech"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// Dependencies are the collaborators the caller constructs: everything with
// external state (engine credentials, database-backed retrieval, tool
// executors). In-process state is built by New.
type Dependencies struct {
	Verifier *auth.Verifier
	Engine   speech.Config

	Supervisor bridge.SupervisorClient
	Retriever  bridge.ContextRetriever
	Filter     bridge.CatalogFilter
	Dispatcher bridge.ToolDispatcher
	Catalog    []tools.Definition
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies

	registry  *sessions.Registry
	tracker   *sessions.Tracker
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics

	// workers caps concurrent supervisor calls across every live session.
	workers chan struct{}
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var workers chan struct{}
	if cfg.SupervisorWorkers > 0 {
		workers = make(chan struct{}, cfg.SupervisorWorkers)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,

		registry:  sessions.NewRegistry(cfg.MaxSessionsPerUser),
		tracker:   sessions.NewTracker(),
		lifecycle: &lifecycle.Lifecycle{},
		metrics:   metrics.New("voicebridge"),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentSessions: cfg.LimitMaxConcurrentSessions,
		}),
		workers: workers,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{Lifecycle: s.lifecycle})
	s.mux.Handle("/metrics", s.metrics.Handler())

	// Broker: bearer auth is optional middleware (browser clients send the
	// identity token in the body instead), request rate limiting is not.
	broker := http.Handler(handlers.CreateSessionHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Verifier:  s.deps.Verifier,
		Registry:  s.registry,
		Lifecycle: s.lifecycle,
		Engine:    s.deps.Engine,
	})
	broker = mw.RateLimit(s.limiter, s.metrics, s.cfg.TrustProxyHeaders, broker)
	broker = mw.Auth(s.deps.Verifier, broker)
	s.mux.Handle("/v1/voice/sessions", broker)

	// Bridge: authenticated by the single-use session token, concurrency
	// capped by the limiter's live-session semaphore inside the handler.
	s.mux.Handle("/v1/voice/bridge", handlers.BridgeHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Registry:  s.registry,
		Tracker:   s.tracker,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Metrics:   s.metrics,

		Supervisor: s.deps.Supervisor,
		Retriever:  s.deps.Retriever,
		Filter:     s.deps.Filter,
		Dispatcher: s.deps.Dispatcher,
		Catalog:    s.deps.Catalog,
		Workers:    s.workers,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Registry exposes the session store so the owner can run the expiry sweeper.
func (s *Server) Registry() *sessions.Registry { return s.registry }

// SetDraining flips the gateway into draining mode: the broker stops minting
// sessions and the bridge stops accepting connections.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining tells every live bridge session the process is
// going away.
func (s *Server) WarnLiveSessionsDraining() {
	n := s.tracker.WarnAll("draining", "server is shutting down; the session will close shortly")
	if n > 0 {
		s.logger.Info("warned live sessions of drain", "sessions", n)
	}
}

// WaitLiveSessions blocks until every live session ends or ctx expires.
// Returns false on timeout.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelLiveSessions force-cancels whatever is still connected.
func (s *Server) CancelLiveSessions() {
	n := s.tracker.CancelAll()
	if n > 0 {
		s.logger.Info("canceled live sessions", "sessions", n)
	}
}
