package mw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/pkg/gateway/auth"
	"github.com/voicebridge/voicebridge/pkg/gateway/config"
	"github.com/voicebridge/voicebridge/pkg/gateway/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/x", nil))
	if seen == "" || !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatal("header does not echo the generated id")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/x", nil)
	req.Header.Set("X-Request-ID", "req_custom")
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "req_custom" {
		t.Fatal("client-supplied id not preserved")
	}
}

func TestAuth_RequiredMode(t *testing.T) {
	cfg := config.Config{
		AuthMode: config.AuthModeRequired,
		APIKeys:  map[string]struct{}{"good-key": {}},
	}
	var principal *auth.Principal
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = auth.PrincipalFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/C1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credential: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/calls/C1", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad key: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/calls/C1", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("good key: status = %d, want 200", rec.Code)
	}
	if principal == nil || principal.APIKey != "good-key" {
		t.Fatalf("principal = %+v", principal)
	}
}

func TestAuth_QueryParamForWebsocketClients(t *testing.T) {
	cfg := config.Config{
		AuthMode: config.AuthModeRequired,
		APIKeys:  map[string]struct{}{"good-key": {}},
	}
	h := Auth(cfg, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/web?api_key=good-key", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuth_TwilioWebhookIsExempt(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeRequired, APIKeys: map[string]struct{}{}}
	h := Auth(cfg, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/twilio/voice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (webhook validates its own signature)", rec.Code)
	}
}

func TestRecover_TurnsPanicInto500(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRateLimit_InitiateScopeOnCallCreation(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		SessionsPerMinute: 600,
		InitiatePerMinute: 60,
		Burst:             1,
		SweepInterval:     time.Hour,
	})
	defer limiter.Close()
	h := RateLimit(limiter, okHandler())

	post := func() int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/calls", nil))
		return rec.Code
	}
	if post() != http.StatusOK {
		t.Fatal("first dial denied")
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("second immediate dial: status = %d, want 429", code)
	}

	// Session-scope reads are budgeted separately.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/C1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("read after dial throttle: status = %d, want 200", rec.Code)
	}
}

func TestRateLimit_HealthAndStreamsBypass(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		SessionsPerMinute: 1,
		InitiatePerMinute: 1,
		Burst:             1,
		SweepInterval:     time.Hour,
	})
	defer limiter.Close()
	h := RateLimit(limiter, okHandler())

	for i := 0; i < 10; i++ {
		for _, path := range []string{"/healthz", "/readyz", "/phone", "/web"} {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("%s throttled on attempt %d", path, i)
			}
		}
	}
}

func TestCORS_PreflightAllowlist(t *testing.T) {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}}}
	h := CORS(cfg, okHandler())

	preflight := func(origin string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/v1/calls", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := preflight("https://app.example.com"); rec.Code != http.StatusNoContent {
		t.Fatalf("allowed origin preflight: status = %d", rec.Code)
	}
	if rec := preflight("https://evil.example.com"); rec.Code != http.StatusForbidden {
		t.Fatalf("denied origin preflight: status = %d", rec.Code)
	}
}
