package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultRealtimeBaseURL = "wss://api.openai.com/v1/realtime"
	defaultConnectTimeout  = 15 * time.Second
	defaultWriteTimeout    = 5 * time.Second
)

// OpenAIDialer connects to the OpenAI realtime API over websocket.
type OpenAIDialer struct {
	APIKey         string
	Model          string
	BaseURL        string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// realtimeEvent is the superset of inbound protocol fields we care about.
type realtimeEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Response   struct {
		ID string `json:"id,omitempty"`
	} `json:"response,omitempty"`
	Error struct {
		Message string `json:"message,omitempty"`
		Code    string `json:"code,omitempty"`
	} `json:"error,omitempty"`
}

type openAISession struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial opens the websocket, sends session.update, and starts the read loop.
// The context bounds connection establishment only.
func (d *OpenAIDialer) Dial(ctx context.Context, cfg SessionConfig) (Session, error) {
	if d == nil || strings.TrimSpace(d.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	model := strings.TrimSpace(d.Model)
	if model == "" {
		model = "gpt-realtime"
	}
	base := strings.TrimSpace(d.BaseURL)
	if base == "" {
		base = defaultRealtimeBaseURL
	}
	wsURL := base + "?model=" + url.QueryEscape(model)

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+d.APIKey)

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := d.ConnectTimeout
		if timeout <= 0 {
			timeout = defaultConnectTimeout
		}
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime endpoint (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	s := &openAISession{
		conn:   conn,
		logger: logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	if err := s.sendJSON(sessionUpdatePayload(model, cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session.update: %w", err)
	}

	go s.readLoop()
	return s, nil
}

func sessionUpdatePayload(model string, cfg SessionConfig) map[string]any {
	inputFormat := map[string]any{"type": cfg.InputFormat}
	outputFormat := map[string]any{"type": cfg.OutputFormat}
	if cfg.InputFormat == "audio/pcm" {
		inputFormat["rate"] = 24000
	}
	if cfg.OutputFormat == "audio/pcm" {
		outputFormat["rate"] = 24000
	}

	input := map[string]any{"format": inputFormat}
	if cfg.TurnDetection != nil {
		input["turn_detection"] = map[string]any{
			"type":                "server_vad",
			"threshold":           cfg.TurnDetection.Threshold,
			"silence_duration_ms": cfg.TurnDetection.SilenceDurationMS,
			"prefix_padding_ms":   cfg.TurnDetection.PrefixPaddingMS,
		}
	} else {
		// The bridge decides when to commit; the endpoint must not.
		input["turn_detection"] = nil
	}

	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"type":              "realtime",
			"model":             model,
			"output_modalities": []string{"audio"},
			"audio": map[string]any{
				"input": input,
				"output": map[string]any{
					"format": outputFormat,
					"voice":  cfg.Voice,
				},
			},
			"instructions": cfg.Instructions,
		},
	}
}

func (s *openAISession) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.emit(ErrorEvent{Message: fmt.Sprintf("realtime connection lost: %v", err)})
			return
		}

		var ev realtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("drop undecodable realtime event", "error", err)
			continue
		}

		switch ev.Type {
		case "response.output_audio.delta":
			audio, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil {
				s.logger.Warn("drop audio delta with bad base64", "error", err)
				continue
			}
			s.emit(AudioDelta{ItemID: ev.ItemID, Audio: audio})
		case "input_audio_buffer.speech_started":
			s.emit(SpeechStarted{})
		case "response.created":
			s.emit(ResponseStarted{ID: ev.Response.ID})
		case "response.done":
			s.emit(ResponseDone{})
		case "response.output_audio_transcript.done":
			if ev.Transcript != "" {
				s.emit(TranscriptDone{Text: ev.Transcript})
			}
		case "error":
			s.emit(ErrorEvent{Message: ev.Error.Message})
		default:
			// Lifecycle chatter (session.updated, rate_limits.updated, ...)
			// is not interesting to the bridge.
		}
	}
}

// emit never blocks the read loop: a bridge that stopped consuming loses
// events rather than wedging the websocket.
func (s *openAISession) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func (s *openAISession) Events() <-chan Event { return s.events }

func (s *openAISession) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	return s.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(frame),
	})
}

func (s *openAISession) Commit() error {
	if err := s.sendJSON(map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return s.sendJSON(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"output_modalities": []string{"audio"},
		},
	})
}

func (s *openAISession) CancelResponse() error {
	return s.sendJSON(map[string]any{"type": "response.cancel"})
}

func (s *openAISession) Truncate(itemID string, elapsedMS int64) error {
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	return s.sendJSON(map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  elapsedMS,
	})
}

func (s *openAISession) ClearInput() error {
	return s.sendJSON(map[string]any{"type": "input_audio_buffer.clear"})
}

func (s *openAISession) Greet() error {
	if err := s.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": "Hello"},
			},
		},
	}); err != nil {
		return err
	}
	return s.sendJSON(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"output_modalities": []string{"audio"},
		},
	})
}

func (s *openAISession) sendJSON(v any) error {
	if s.closed.Load() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *openAISession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}
