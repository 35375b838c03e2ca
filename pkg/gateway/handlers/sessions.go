package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/voicebridge/voicebridge/pkg/store"
)

// SessionsHandler serves /v1/sessions: recent call sessions and their
// audit trails.
type SessionsHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

func (h SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions"), "/")
	switch {
	case rest == "":
		h.list(w, r)
	case strings.HasSuffix(rest, "/audit"):
		h.audit(w, r, strings.TrimSuffix(rest, "/audit"))
	case !strings.Contains(rest, "/"):
		h.get(w, r, rest)
	default:
		writeError(w, r, http.StatusNotFound, "not_found_error", "unknown resource")
	}
}

func (h SessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	out, err := h.Store.ListSessions(r.Context(), queryLimit(r))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if out == nil {
		out = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h SessionsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h SessionsHandler) audit(w http.ResponseWriter, r *http.Request, id string) {
	id = strings.Trim(id, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "not_found_error", "unknown resource")
		return
	}
	recs, err := h.Store.SessionAudit(r.Context(), id, queryLimit(r))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*store.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": recs})
}

func (h SessionsHandler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found_error", "session not found")
		return
	}
	if h.Logger != nil {
		h.Logger.Error("session store query failed", "error", err)
	}
	writeError(w, r, http.StatusInternalServerError, "api_error", "session store unavailable")
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
