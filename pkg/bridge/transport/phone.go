package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/voicebridge/voicebridge/pkg/audio"
)

const (
	phoneSampleRate    = 8000
	endpointSampleRate = 24000
)

// phoneMessage is the telephony media-stream wire envelope, inbound and
// outbound. Timestamps arrive as decimal strings.
type phoneMessage struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid,omitempty"`
	Start     *phoneStart `json:"start,omitempty"`
	Media     *phoneMedia `json:"media,omitempty"`
	Mark      *phoneMark  `json:"mark,omitempty"`
}

type phoneStart struct {
	StreamSid string `json:"streamSid"`
}

type phoneMedia struct {
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
	Track     string `json:"track,omitempty"`
}

type phoneMark struct {
	Name string `json:"name"`
}

// PhoneAdapter bridges the telephony media-stream protocol: 8 kHz mu-law
// in base64 envelopes correlated by a stream token.
type PhoneAdapter struct {
	token      string
	mediaClock int64
}

func NewPhoneAdapter() *PhoneAdapter { return &PhoneAdapter{} }

func (a *PhoneAdapter) HandleMessage(data []byte) ([]Event, error) {
	var msg phoneMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode phone message: %w", err)
	}

	switch msg.Event {
	case "start":
		token := msg.StreamSid
		if msg.Start != nil && msg.Start.StreamSid != "" {
			token = msg.Start.StreamSid
		}
		if token == "" {
			return nil, fmt.Errorf("stream start without a stream token")
		}
		a.token = token
		a.mediaClock = 0
		return []Event{StreamStarted{Token: token}}, nil

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, fmt.Errorf("media message without payload")
		}
		if msg.Media.Timestamp != "" {
			ts, err := strconv.ParseInt(msg.Media.Timestamp, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse media timestamp %q: %w", msg.Media.Timestamp, err)
			}
			if ts > a.mediaClock {
				a.mediaClock = ts
			}
		}
		raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode media payload: %w", err)
		}
		pcm := audio.Upsample(audio.DecodeMulaw(raw), phoneSampleRate, endpointSampleRate)
		return []Event{AudioIn{PCM: pcm, MediaClock: a.mediaClock}}, nil

	case "stop":
		return []Event{StreamStopped{}}, nil

	case "mark":
		name := ""
		if msg.Mark != nil {
			name = msg.Mark.Name
		}
		return []Event{MarkAck{Name: name}}, nil

	default:
		// connected, dtmf and other chatter carry no media.
		return nil, nil
	}
}

func (a *PhoneAdapter) RenderAudio(pcm []int16) ([]byte, error) {
	if a.token == "" {
		return nil, fmt.Errorf("no stream token: stream has not started")
	}
	companded := audio.EncodeMulawAll(audio.Decimate(pcm, endpointSampleRate, phoneSampleRate))
	return json.Marshal(phoneMessage{
		Event:     "media",
		StreamSid: a.token,
		Media:     &phoneMedia{Payload: base64.StdEncoding.EncodeToString(companded)},
	})
}

func (a *PhoneAdapter) RenderClear() ([]byte, error) {
	if a.token == "" {
		return nil, fmt.Errorf("no stream token: stream has not started")
	}
	return json.Marshal(phoneMessage{Event: "clear", StreamSid: a.token})
}

// RenderMark tags the outbound queue so the far end acknowledges playback
// progress with mark events.
func (a *PhoneAdapter) RenderMark(name string) ([]byte, error) {
	if a.token == "" {
		return nil, fmt.Errorf("no stream token: stream has not started")
	}
	return json.Marshal(phoneMessage{
		Event:     "mark",
		StreamSid: a.token,
		Mark:      &phoneMark{Name: name},
	})
}

func (a *PhoneAdapter) MediaClockDriven() bool { return true }
func (a *PhoneAdapter) MediaClock() int64      { return a.mediaClock }

// Token returns the transport stream correlation id, empty before start.
func (a *PhoneAdapter) Token() string { return a.token }
