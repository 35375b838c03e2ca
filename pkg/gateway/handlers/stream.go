package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/pkg/bridge"
	"github.com/voicebridge/voicebridge/pkg/bridge/sessions"
	"github.com/voicebridge/voicebridge/pkg/bridge/transport"
	"github.com/voicebridge/voicebridge/pkg/gateway/auth"
	"github.com/voicebridge/voicebridge/pkg/gateway/config"
	"github.com/voicebridge/voicebridge/pkg/gateway/ratelimit"
)

const (
	SourcePhone = "phone"
	SourceWeb   = "web"
)

// StreamHandler upgrades /phone and /web connections and runs one bridge
// per accepted websocket. A session permit is held for the lifetime of
// the call.
type StreamHandler struct {
	Source  string
	Config  config.Config
	Bridge  bridge.Config
	Limiter *ratelimit.Limiter
	Tracker *sessions.Tracker
	Logger  *slog.Logger

	// Draining, when set, refuses new calls during shutdown.
	Draining func() bool
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	if h.Draining != nil && h.Draining() {
		writeError(w, r, http.StatusServiceUnavailable, "overloaded_error", "gateway is draining")
		return
	}
	if h.Source == SourceWeb && !h.originAllowed(r) {
		writeError(w, r, http.StatusForbidden, "permission_error", "origin is not allowed")
		return
	}

	// Phone streams are not permit-limited here: the provider account
	// bounds telephony concurrency, and every stream would share one
	// principal anyway.
	var permit *ratelimit.Permit
	if h.Limiter != nil && h.Source == SourceWeb {
		dec := h.Limiter.AcquireSession(h.principalKey(r), time.Now())
		if !dec.Allowed {
			writeError(w, r, http.StatusTooManyRequests, "rate_limit_error", "too many active sessions")
			return
		}
		permit = dec.Permit
		defer permit.Release()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var adapter transport.Adapter
	if h.Source == SourcePhone {
		adapter = transport.NewPhoneAdapter()
	} else {
		adapter = transport.NewWebAdapter()
	}

	persona := strings.TrimSpace(r.URL.Query().Get("context"))
	b := bridge.New(conn, adapter, h.Source, persona, h.Bridge)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unregister := func() {}
	if h.Tracker != nil {
		unregister = h.Tracker.Register(uuid.NewString(), sessions.Call{
			Cancel: cancel,
			Notify: b.NotifyDownstream,
		})
	}
	defer unregister()

	if err := b.Run(ctx); err != nil && h.Logger != nil {
		h.Logger.Warn("call ended with error", "source", h.Source, "session_id", b.SessionID(), "error", err)
	}
}

// originAllowed mirrors the CORS allowlist for browser websocket clients,
// which bypass preflight.
func (h StreamHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h StreamHandler) principalKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
	}
	return "anonymous"
}
