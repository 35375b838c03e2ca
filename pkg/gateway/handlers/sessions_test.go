package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicebridge/voicebridge/pkg/store"
)

func seededStore(t *testing.T) (*store.MemoryStore, string) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	id, err := st.CreateSession(ctx, "web", map[string]any{"persona": "demo"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	st.Audit(ctx, "call.started", id, nil)
	st.Audit(ctx, "call.ended", id, nil)
	return st, id
}

func TestSessions_GetByID(t *testing.T) {
	st, id := seededStore(t)
	h := SessionsHandler{Store: st}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sess store.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ID != id || sess.Source != "web" || sess.Status != store.StatusActive {
		t.Fatalf("session = %+v", sess)
	}
}

func TestSessions_List(t *testing.T) {
	st, id := seededStore(t)
	h := SessionsHandler{Store: st}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Sessions []store.Session `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].ID != id {
		t.Fatalf("sessions = %+v", resp.Sessions)
	}
}

func TestSessions_AuditTrail(t *testing.T) {
	st, id := seededStore(t)
	h := SessionsHandler{Store: st}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/audit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Events []store.AuditRecord `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 2 || resp.Events[0].EventType != "call.started" {
		t.Fatalf("events = %+v", resp.Events)
	}
}

func TestSessions_NotFound(t *testing.T) {
	st, _ := seededStore(t)
	h := SessionsHandler{Store: st}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessions_MethodNotAllowed(t *testing.T) {
	st, _ := seededStore(t)
	h := SessionsHandler{Store: st}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
