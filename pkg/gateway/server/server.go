// Package server assembles the gateway: routes, middleware chain, and
// the shared limiter, tracker and store that outlive individual calls.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/voicebridge/voicebridge/pkg/bridge/sessions"
	"github.com/voicebridge/voicebridge/pkg/callctl"
	"github.com/voicebridge/voicebridge/pkg/gateway/config"
	"github.com/voicebridge/voicebridge/pkg/gateway/handlers"
	"github.com/voicebridge/voicebridge/pkg/gateway/mw"
	"github.com/voicebridge/voicebridge/pkg/gateway/ratelimit"
	"github.com/voicebridge/voicebridge/pkg/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	st       store.Store
	limiter  *ratelimit.Limiter
	tracker  *sessions.Tracker
	calls    handlers.CallControl
	draining atomic.Bool
}

func New(cfg config.Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.NewMemoryStore()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		st:      st,
		tracker: sessions.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			SessionsPerMinute: cfg.LimitSessionsPerMinute,
			InitiatePerMinute: cfg.LimitInitiatePerMinute,
			Burst:             cfg.LimitBurst,
			MaxLiveSessions:   cfg.MaxSessionsPerPrincipal,
			EntryTTL:          cfg.LimitTTL,
		}),
	}

	if cfg.CallControlEnabled() {
		client, err := callctl.New(callctl.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			PublicHost: cfg.PublicHost,
		})
		if err != nil {
			s.limiter.Close()
			return nil, err
		}
		s.calls = client
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	draining := s.draining.Load
	dialer := handlers.NewDialer(s.cfg, s.logger)
	bridgeCfg := handlers.BridgeConfig(s.cfg, dialer, s.st, s.st, s.logger)

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:   s.cfg,
		Store:    s.st,
		Tracker:  s.tracker,
		Draining: draining,
	})

	for _, source := range []string{handlers.SourcePhone, handlers.SourceWeb} {
		s.mux.Handle("/"+source, handlers.StreamHandler{
			Source:   source,
			Config:   s.cfg,
			Bridge:   bridgeCfg,
			Limiter:  s.limiter,
			Tracker:  s.tracker,
			Logger:   s.logger,
			Draining: draining,
		})
	}

	s.mux.Handle("/twilio/voice", handlers.TwilioVoiceHandler{
		Config: s.cfg,
		Logger: s.logger,
	})
	s.mux.Handle("/twilio/status", handlers.TwilioStatusHandler{
		Config: s.cfg,
		Audit:  s.st,
		Logger: s.logger,
	})
	callsHandler := handlers.CallsHandler{Calls: s.calls, Logger: s.logger}
	s.mux.Handle("/v1/calls", callsHandler)
	s.mux.Handle("/v1/calls/", callsHandler)

	sessionsHandler := handlers.SessionsHandler{Store: s.st, Logger: s.logger}
	s.mux.Handle("/v1/sessions", sessionsHandler)
	s.mux.Handle("/v1/sessions/", sessionsHandler)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// ActiveCalls reports how many media streams are currently live.
func (s *Server) ActiveCalls() int { return s.tracker.Count() }

// Drain refuses new calls, warns the active ones, then cancels whatever
// is still running when ctx expires. It returns once all calls are done
// or the context is canceled.
func (s *Server) Drain(ctx context.Context) {
	s.draining.Store(true)

	if n := s.tracker.NotifyAll("the service is restarting, this call will end shortly"); n > 0 {
		s.logger.Info("notified active calls of shutdown", "count", n)
	}
	if s.tracker.Wait(ctx) {
		return
	}
	if n := s.tracker.CancelAll(); n > 0 {
		s.logger.Warn("canceled calls still active at deadline", "count", n)
	}
}

// Close releases resources owned by the server. Call after the HTTP
// listener has stopped.
func (s *Server) Close() {
	s.limiter.Close()
}
