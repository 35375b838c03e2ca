package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/pkg/gateway/config"
	"github.com/voicebridge/voicebridge/pkg/store"
)

func testConfig() config.Config {
	return config.Config{
		Addr:                    ":0",
		AuthMode:                config.AuthModeDisabled,
		Upstream:                config.UpstreamMock,
		TestMode:                true,
		TurnPolicy:              config.TurnPolicyServer,
		Voice:                   "alloy",
		Greeting:                false,
		VADThreshold:            150,
		VADSilenceFrames:        55,
		VADCooldown:             2 * time.Second,
		ServerVADThreshold:      0.5,
		ServerVADSilence:        700 * time.Millisecond,
		ServerVADPrefix:         300 * time.Millisecond,
		WSPingInterval:          20 * time.Second,
		WSWriteTimeout:          5 * time.Second,
		UpstreamConnectTimeout:  15 * time.Second,
		LimitSessionsPerMinute:  600,
		LimitInitiatePerMinute:  600,
		LimitBurst:              50,
		LimitTTL:                10 * time.Minute,
		MaxSessionsPerPrincipal: 10,
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(testConfig(), store.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(s.Close)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_HealthAndReady(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
	var ready struct {
		OK       bool   `json:"ok"`
		Upstream string `json:"upstream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ready.OK || ready.Upstream != "mock" {
		t.Fatalf("ready = %+v", ready)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("request id middleware not applied")
	}
}

func TestServer_WebCallEndToEnd(t *testing.T) {
	s, ts := newTestServer(t)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/web", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg["type"] != "session.ready" {
		t.Fatalf("first message = %v", msg)
	}
	sessionID, _ := msg["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("missing session id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.ActiveCalls() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.ActiveCalls() != 1 {
		t.Fatalf("active calls = %d, want 1", s.ActiveCalls())
	}

	// The REST surface sees the session the bridge registered.
	resp, err := http.Get(ts.URL + "/v1/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session lookup status = %d", resp.StatusCode)
	}
}

func TestServer_CallsWithoutTelephonyConfig(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/calls", "application/json", strings.NewReader(`{"to":"+1"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", resp.StatusCode)
	}
}

func TestServer_DrainStopsNewCallsAndWaits(t *testing.T) {
	s, ts := newTestServer(t)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/web", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := client.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.ActiveCalls() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	drainDone := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.Drain(ctx)
		close(drainDone)
	}()

	// New calls are refused while draining.
	waitDraining := time.Now().Add(time.Second)
	for !s.draining.Load() && time.Now().Before(waitDraining) {
		time.Sleep(5 * time.Millisecond)
	}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/web", nil)
	if err == nil {
		t.Fatal("new call accepted while draining")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("response = %v", resp)
	}

	_ = client.Close()
	select {
	case <-drainDone:
	case <-time.After(4 * time.Second):
		t.Fatal("drain did not finish after the last call ended")
	}
	if s.ActiveCalls() != 0 {
		t.Fatalf("active calls after drain = %d", s.ActiveCalls())
	}
}
