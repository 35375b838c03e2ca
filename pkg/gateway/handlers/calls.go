package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voicebridge/voicebridge/pkg/callctl"
)

// CallControl is the slice of the telephony client the handlers need;
// tests substitute a fake.
type CallControl interface {
	Dial(ctx context.Context, to, persona string) (*callctl.Call, error)
	Status(ctx context.Context, sid string) (*callctl.Call, error)
	Hangup(ctx context.Context, sid string) (*callctl.Call, error)
}

// CallsHandler serves /v1/calls: dial out, inspect, hang up. Nil Calls
// means telephony is not configured and every request is rejected.
type CallsHandler struct {
	Calls  CallControl
	Logger *slog.Logger
}

type dialRequest struct {
	To      string `json:"to"`
	Context string `json:"context,omitempty"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Calls == nil {
		writeError(w, r, http.StatusNotImplemented, "invalid_request_error", "telephony call control is not configured")
		return
	}

	sid := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/calls"), "/")
	switch {
	case sid == "" && r.Method == http.MethodPost:
		h.dial(w, r)
	case sid != "" && r.Method == http.MethodGet:
		h.status(w, r, sid)
	case sid != "" && r.Method == http.MethodDelete:
		h.hangup(w, r, sid)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
	}
}

func (h CallsHandler) dial(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "malformed request body")
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "to is required")
		return
	}

	call, err := h.Calls.Dial(r.Context(), strings.TrimSpace(req.To), strings.TrimSpace(req.Context))
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("dial failed", "to", req.To, "error", err)
		}
		writeError(w, r, http.StatusBadGateway, "api_error", "could not place call")
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

func (h CallsHandler) status(w http.ResponseWriter, r *http.Request, sid string) {
	call, err := h.Calls.Status(r.Context(), sid)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "not_found_error", "call not found")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h CallsHandler) hangup(w http.ResponseWriter, r *http.Request, sid string) {
	call, err := h.Calls.Hangup(r.Context(), sid)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "api_error", "could not hang up call")
		return
	}
	writeJSON(w, http.StatusOK, call)
}
