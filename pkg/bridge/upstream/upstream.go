// Package upstream owns the single connection to a realtime
// speech-to-speech model endpoint for one call. Implementations translate
// bridge commands into endpoint protocol messages and endpoint events into
// the internal event vocabulary consumed by the bridge loop.
package upstream

import "context"

// TurnDetection configures endpoint-side voice activity detection. Only
// meaningful when the bridge delegates turn taking to the endpoint; a nil
// value disables endpoint VAD so the bridge commits turns itself.
type TurnDetection struct {
	Threshold         float64
	SilenceDurationMS int
	PrefixPaddingMS   int
}

// SessionConfig is sent once, immediately after connect.
type SessionConfig struct {
	// InputFormat / OutputFormat name the endpoint encoding: "audio/pcm"
	// (16-bit linear at 24 kHz) or "audio/pcmu" (8 kHz mu-law).
	InputFormat   string
	OutputFormat  string
	Voice         string
	Instructions  string
	TurnDetection *TurnDetection
}

// Session is one live connection to the model endpoint. Commands are
// fire-and-forget: effects are confirmed asynchronously through Events.
type Session interface {
	// SendAudio appends one frame of input audio (endpoint encoding) to
	// the endpoint's input buffer. A no-op when not connected.
	SendAudio(frame []byte) error
	// Commit flushes the input buffer and requests a response.
	Commit() error
	// CancelResponse aborts the in-flight response, if any.
	CancelResponse() error
	// Truncate tells the endpoint how much of assistant item itemID was
	// actually heard, so its transcript reflects reality after barge-in.
	Truncate(itemID string, elapsedMS int64) error
	// ClearInput discards buffered, uncommitted input audio.
	ClearInput() error
	// Greet injects a synthetic user turn and requests a spoken greeting.
	Greet() error
	// Events yields endpoint events until the connection closes.
	Events() <-chan Event
	Close() error
}

// Dialer opens a Session. Implementations: the OpenAI realtime endpoint,
// the Gemini Live endpoint, and a deterministic mock for tests.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Event is an endpoint event delivered to the bridge loop.
type Event interface {
	eventType() string
}

// AudioDelta carries one chunk of synthesized assistant speech.
type AudioDelta struct {
	ItemID string
	Audio  []byte
}

func (AudioDelta) eventType() string { return "audio_delta" }

// SpeechStarted reports endpoint-detected user speech onset. While
// assistant audio is in flight this is the barge-in trigger.
type SpeechStarted struct{}

func (SpeechStarted) eventType() string { return "speech_started" }

type ResponseStarted struct{ ID string }

func (ResponseStarted) eventType() string { return "response_started" }

type ResponseDone struct{}

func (ResponseDone) eventType() string { return "response_done" }

type TranscriptDone struct{ Text string }

func (TranscriptDone) eventType() string { return "transcript_done" }

// ErrorEvent surfaces a connection or protocol failure. The bridge decides
// whether to tear the call down; sessions never retry on their own.
type ErrorEvent struct{ Message string }

func (ErrorEvent) eventType() string { return "error" }
