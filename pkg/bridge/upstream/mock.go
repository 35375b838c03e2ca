package upstream

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/voicebridge/voicebridge/pkg/audio"
)

const (
	defaultMockFrameThreshold = 50
	mockToneHz                = 440
	mockToneSeconds           = 0.5
	mockToneAmplitude         = 8000
)

// MockDialer produces sessions that synthesize a fixed tone instead of
// talking to a network endpoint. Used when test mode is enabled.
type MockDialer struct {
	// FrameThreshold is how many input frames arrive before the session
	// speaks unprompted. Zero means the default of 50.
	FrameThreshold int
}

func (d *MockDialer) Dial(_ context.Context, cfg SessionConfig) (Session, error) {
	threshold := d.FrameThreshold
	if threshold <= 0 {
		threshold = defaultMockFrameThreshold
	}
	return &mockSession{
		cfg:       cfg,
		threshold: threshold,
		events:    make(chan Event, 16),
	}, nil
}

type mockSession struct {
	cfg       SessionConfig
	threshold int
	events    chan Event

	mu        sync.Mutex
	frames    int
	responses int
	spoke     bool
	closed    bool
}

func (s *mockSession) Events() <-chan Event { return s.events }

func (s *mockSession) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(frame) == 0 {
		return nil
	}
	s.frames++
	if s.frames >= s.threshold && !s.spoke {
		s.spoke = true
		s.respondLocked()
	}
	return nil
}

func (s *mockSession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.respondLocked()
	return nil
}

func (s *mockSession) CancelResponse() error { return nil }

func (s *mockSession) Truncate(string, int64) error { return nil }

func (s *mockSession) ClearInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = 0
	return nil
}

func (s *mockSession) Greet() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.respondLocked()
	return nil
}

// respondLocked plays one full synthetic turn. Callers hold s.mu.
func (s *mockSession) respondLocked() {
	s.responses++
	itemID := fmt.Sprintf("mock_item_%04d", s.responses)

	s.emit(ResponseStarted{ID: fmt.Sprintf("mock_resp_%04d", s.responses)})
	s.emit(AudioDelta{ItemID: itemID, Audio: s.tone()})
	s.emit(TranscriptDone{Text: "This is a simulated response."})
	s.emit(ResponseDone{})
}

// tone renders a 440 Hz half-second sine in the configured output encoding.
func (s *mockSession) tone() []byte {
	rate := 24000
	if s.cfg.OutputFormat == "audio/pcmu" {
		rate = 8000
	}
	n := int(mockToneSeconds * float64(rate))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(mockToneAmplitude * math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(rate)))
	}
	if s.cfg.OutputFormat == "audio/pcmu" {
		return audio.EncodeMulawAll(samples)
	}
	return audio.PCM16ToBytes(samples)
}

func (s *mockSession) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
