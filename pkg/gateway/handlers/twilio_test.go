package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/voicebridge/voicebridge/pkg/gateway/config"
	"github.com/voicebridge/voicebridge/pkg/store"
)

func signWebhook(token, fullURL string, form url.Values) string {
	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(fullURL)
	for _, name := range names {
		for _, value := range form[name] {
			sb.WriteString(name)
			sb.WriteString(value)
		}
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func voiceWebhookRequest(t *testing.T, token, path string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		full := "https://bridge.example.com" + path
		req.Header.Set("X-Twilio-Signature", signWebhook(token, full, form))
	}
	return req
}

func TestTwilioVoice_RendersStreamInstructions(t *testing.T) {
	h := TwilioVoiceHandler{Config: config.Config{
		TwilioAuthToken: "tok",
		PublicHost:      "bridge.example.com",
	}}

	form := url.Values{"CallSid": {"CA1"}, "From": {"+15551234567"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, voiceWebhookRequest(t, "tok", "/twilio/voice", form))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<Stream url="wss://bridge.example.com/phone">`) &&
		!strings.Contains(body, `<Stream url="wss://bridge.example.com/phone"/>`) {
		t.Fatalf("body = %s", body)
	}
}

func TestTwilioVoice_CarriesPersonaToStreamURL(t *testing.T) {
	h := TwilioVoiceHandler{Config: config.Config{
		TwilioAuthToken: "tok",
		PublicHost:      "bridge.example.com",
	}}

	form := url.Values{"CallSid": {"CA1"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, voiceWebhookRequest(t, "tok", "/twilio/voice?context=sales", form))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wss://bridge.example.com/phone?context=sales") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestTwilioVoice_RejectsBadSignature(t *testing.T) {
	h := TwilioVoiceHandler{Config: config.Config{
		TwilioAuthToken: "tok",
		PublicHost:      "bridge.example.com",
	}}

	form := url.Values{"CallSid": {"CA1"}}

	rec := httptest.NewRecorder()
	req := voiceWebhookRequest(t, "wrong-token", "/twilio/voice", form)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token: status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = voiceWebhookRequest(t, "", "/twilio/voice", form)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing signature: status = %d, want 403", rec.Code)
	}
}

func TestTwilioStatus_RecordsCallProgress(t *testing.T) {
	st := store.NewMemoryStore()
	h := TwilioStatusHandler{
		Config: config.Config{TwilioAuthToken: "tok", PublicHost: "bridge.example.com"},
		Audit:  st,
	}

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, voiceWebhookRequest(t, "tok", "/twilio/status", form))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	recs, err := st.SessionAudit(context.Background(), "CA1", 0)
	if err != nil || len(recs) != 1 {
		t.Fatalf("audit = %v, err = %v", recs, err)
	}
	if recs[0].EventType != "call.status" || recs[0].Metadata["status"] != "completed" {
		t.Fatalf("record = %+v", recs[0])
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, voiceWebhookRequest(t, "bad", "/twilio/status", form))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad signature: status = %d, want 403", rec.Code)
	}
}

func TestTwilioVoice_MethodNotAllowed(t *testing.T) {
	h := TwilioVoiceHandler{Config: config.Config{PublicHost: "bridge.example.com"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/twilio/voice", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
