package handlers

import (
	"net/http"

	"github.com/voicebridge/voicebridge/pkg/bridge/sessions"
	"github.com/voicebridge/voicebridge/pkg/gateway/config"
	"github.com/voicebridge/voicebridge/pkg/store"
)

type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can take calls: upstream
// credentials present, store reachable, and the live-call count.
type ReadyHandler struct {
	Config  config.Config
	Store   store.Store
	Tracker *sessions.Tracker

	// Draining flips readiness off during shutdown so load balancers
	// stop routing new calls here.
	Draining func() bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		Upstream    string   `json:"upstream"`
		TurnPolicy  string   `json:"turn_policy"`
		ActiveCalls int      `json:"active_calls"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if h.Draining != nil && h.Draining() {
		issues = append(issues, "draining")
	}
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			issues = append(issues, "session store unreachable")
		}
	}
	switch h.Config.Upstream {
	case config.UpstreamOpenAI:
		if h.Config.OpenAIAPIKey == "" {
			issues = append(issues, "missing openai api key")
		}
	case config.UpstreamGemini:
		if h.Config.GeminiAPIKey == "" {
			issues = append(issues, "missing gemini api key")
		}
	}

	resp := readyResp{
		OK:         len(issues) == 0,
		Upstream:   string(h.Config.Upstream),
		TurnPolicy: string(h.Config.TurnPolicy),
		Issues:     issues,
	}
	if h.Tracker != nil {
		resp.ActiveCalls = h.Tracker.Count()
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
