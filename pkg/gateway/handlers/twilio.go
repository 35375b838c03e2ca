package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/voicebridge/voicebridge/pkg/bridge"
	"github.com/voicebridge/voicebridge/pkg/gateway/config"
)

// TwilioVoiceHandler answers the telephony provider's voice webhook with
// stream instructions pointing back at /phone. Requests are verified
// against the provider's request signature.
type TwilioVoiceHandler struct {
	Config config.Config
	Logger *slog.Logger
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

func (h TwilioVoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "malformed form body")
		return
	}

	if h.Config.TwilioAuthToken != "" && !h.validSignature(r) {
		if h.Logger != nil {
			h.Logger.Warn("rejected voice webhook with bad signature", "remote", r.RemoteAddr)
		}
		writeError(w, r, http.StatusForbidden, "permission_error", "invalid webhook signature")
		return
	}

	streamURL := url.URL{Scheme: "wss", Host: h.Config.PublicHost, Path: "/phone"}
	if persona := strings.TrimSpace(r.URL.Query().Get("context")); persona != "" {
		streamURL.RawQuery = url.Values{"context": {persona}}.Encode()
	}

	payload, err := xml.Marshal(twimlResponse{
		Connect: twimlConnect{Stream: twimlStream{URL: streamURL.String()}},
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "api_error", "could not render response")
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(payload)
}

func (h TwilioVoiceHandler) validSignature(r *http.Request) bool {
	return validTwilioSignature(h.Config, r)
}

// TwilioStatusHandler receives call progress callbacks for outbound calls
// and records them in the audit trail under the provider call SID.
type TwilioStatusHandler struct {
	Config config.Config
	Audit  bridge.AuditSink
	Logger *slog.Logger
}

func (h TwilioStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "malformed form body")
		return
	}
	if h.Config.TwilioAuthToken != "" && !validTwilioSignature(h.Config, r) {
		writeError(w, r, http.StatusForbidden, "permission_error", "invalid webhook signature")
		return
	}

	sid := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	if h.Logger != nil {
		h.Logger.Info("call status update", "call_sid", sid, "status", status)
	}
	if h.Audit != nil && sid != "" {
		h.Audit.Audit(r.Context(), "call.status", sid, map[string]any{"status": status})
	}
	w.WriteHeader(http.StatusNoContent)
}

// validTwilioSignature checks X-Twilio-Signature: base64 HMAC-SHA1 over
// the full request URL followed by the POST parameters sorted by name,
// each appended as name then value.
func validTwilioSignature(cfg config.Config, r *http.Request) bool {
	provided := strings.TrimSpace(r.Header.Get("X-Twilio-Signature"))
	if provided == "" {
		return false
	}

	requestURL := url.URL{Scheme: "https", Host: cfg.PublicHost, Path: r.URL.Path, RawQuery: r.URL.RawQuery}

	names := make([]string, 0, len(r.PostForm))
	for name := range r.PostForm {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(requestURL.String())
	for _, name := range names {
		for _, value := range r.PostForm[name] {
			sb.WriteString(name)
			sb.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(cfg.TwilioAuthToken))
	mac.Write([]byte(sb.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}
