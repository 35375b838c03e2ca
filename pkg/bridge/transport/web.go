package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/voicebridge/voicebridge/pkg/audio"
)

const browserCaptureRate = 48000

type webInbound struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Rate int    `json:"rate,omitempty"`
}

type webOutbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	TestMode  bool   `json:"testMode,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Message   string `json:"message,omitempty"`
}

// WebAdapter bridges a browser websocket speaking self-contained JSON
// frames of linear16 audio at the endpoint rate, or 48 kHz worklet
// capture declared per frame.
type WebAdapter struct{}

func NewWebAdapter() *WebAdapter { return &WebAdapter{} }

func (a *WebAdapter) HandleMessage(data []byte) ([]Event, error) {
	var msg webInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode web message: %w", err)
	}

	switch msg.Type {
	case "start":
		return []Event{StreamStarted{}}, nil

	case "audio":
		if msg.Data == "" {
			return nil, fmt.Errorf("audio message without data")
		}
		raw, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("decode audio payload: %w", err)
		}
		pcm := audio.BytesToPCM16(raw)
		if msg.Rate == browserCaptureRate {
			pcm = audio.Decimate(pcm, browserCaptureRate, endpointSampleRate)
		}
		return []Event{AudioIn{PCM: pcm}}, nil

	case "interrupt":
		return []Event{BargeIn{}}, nil

	case "stop":
		return []Event{StreamStopped{}}, nil

	default:
		return nil, nil
	}
}

// RenderReady acknowledges the connection before the client starts
// streaming; testMode tells the client a simulated endpoint is in use.
func (a *WebAdapter) RenderReady(sessionID string, testMode bool) ([]byte, error) {
	return json.Marshal(webOutbound{Type: "session.ready", SessionID: sessionID, TestMode: testMode})
}

// RenderAudio forwards endpoint-rate linear16 directly; the browser plays
// 24 kHz without transcoding.
func (a *WebAdapter) RenderAudio(pcm []int16) ([]byte, error) {
	return json.Marshal(webOutbound{
		Type:    "audio",
		Payload: base64.StdEncoding.EncodeToString(audio.PCM16ToBytes(pcm)),
	})
}

func (a *WebAdapter) RenderClear() ([]byte, error) {
	return json.Marshal(webOutbound{Type: "clear"})
}

func (a *WebAdapter) RenderError(message string) ([]byte, error) {
	return json.Marshal(webOutbound{Type: "error", Message: message})
}

func (a *WebAdapter) MediaClockDriven() bool { return false }
func (a *WebAdapter) MediaClock() int64      { return 0 }
