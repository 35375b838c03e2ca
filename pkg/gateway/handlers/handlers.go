// Package handlers implements the HTTP surface of the gateway: the two
// media stream endpoints, the telephony webhook, call control, session
// lookups and health.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/voicebridge/voicebridge/pkg/bridge"
	"github.com/voicebridge/voicebridge/pkg/bridge/turn"
	"github.com/voicebridge/voicebridge/pkg/bridge/upstream"
	"github.com/voicebridge/voicebridge/pkg/gateway/config"
	"github.com/voicebridge/voicebridge/pkg/gateway/mw"
)

type apiError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errType, message string) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{
		Type:      errType,
		Message:   message,
		RequestID: reqID,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewDialer selects the model endpoint implementation for the configured
// upstream kind.
func NewDialer(cfg config.Config, logger *slog.Logger) upstream.Dialer {
	switch cfg.Upstream {
	case config.UpstreamGemini:
		return &upstream.GeminiDialer{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Logger: logger,
		}
	case config.UpstreamMock:
		return &upstream.MockDialer{}
	default:
		return &upstream.OpenAIDialer{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			BaseURL:        cfg.OpenAIWSURL,
			ConnectTimeout: cfg.UpstreamConnectTimeout,
			Logger:         logger,
		}
	}
}

// BridgeConfig builds the shared per-call bridge configuration. The model
// endpoint always speaks 24 kHz linear16; transports transcode to their
// own wire formats.
func BridgeConfig(cfg config.Config, dialer upstream.Dialer, registry bridge.Registry, audit bridge.AuditSink, logger *slog.Logger) bridge.Config {
	bc := bridge.Config{
		Dialer: dialer,
		Upstream: upstream.SessionConfig{
			InputFormat:  "audio/pcm",
			OutputFormat: "audio/pcm",
			Voice:        cfg.Voice,
		},
		Greeting:     cfg.Greeting,
		TestMode:     cfg.TestMode,
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
		Registry:     registry,
		Audit:        audit,
		Logger:       logger,
	}

	if cfg.TurnPolicy == config.TurnPolicyLocal {
		bc.Turn = turn.Config{
			Policy:        turn.PolicyLocalVAD,
			RMSThreshold:  cfg.VADThreshold,
			SilenceFrames: cfg.VADSilenceFrames,
			Cooldown:      cfg.VADCooldown,
		}
		return bc
	}

	bc.Turn = turn.Config{Policy: turn.PolicyServerVAD}
	bc.Upstream.TurnDetection = &upstream.TurnDetection{
		Threshold:         cfg.ServerVADThreshold,
		SilenceDurationMS: int(cfg.ServerVADSilence / time.Millisecond),
		PrefixPaddingMS:   int(cfg.ServerVADPrefix / time.Millisecond),
	}
	return bc
}
