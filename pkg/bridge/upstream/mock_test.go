package upstream

import (
	"context"
	"testing"
	"time"
)

func collectTurn(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed mid-turn, got %v", got)
			}
			got = append(got, ev)
			if _, done := ev.(ResponseDone); done {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a full turn, got %v", got)
		}
	}
}

func TestMockSession_SpeaksAfterFrameThreshold(t *testing.T) {
	d := &MockDialer{FrameThreshold: 3}
	s, err := d.Dial(context.Background(), SessionConfig{OutputFormat: "audio/pcm"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()

	frame := []byte{0, 0}
	_ = s.SendAudio(frame)
	_ = s.SendAudio(frame)
	select {
	case ev := <-s.Events():
		t.Fatalf("spoke before threshold: %T", ev)
	default:
	}

	_ = s.SendAudio(frame)
	got := collectTurn(t, s.Events())
	if _, ok := got[0].(ResponseStarted); !ok {
		t.Fatalf("first event = %T, want ResponseStarted", got[0])
	}
	delta, ok := got[1].(AudioDelta)
	if !ok {
		t.Fatalf("second event = %T, want AudioDelta", got[1])
	}
	// Half a second of 24 kHz 16-bit mono.
	if want := 24000; len(delta.Audio) != want {
		t.Fatalf("tone is %d bytes, want %d", len(delta.Audio), want)
	}

	// The unprompted response fires once, not on every further frame.
	for i := 0; i < 10; i++ {
		_ = s.SendAudio(frame)
	}
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected extra event %T", ev)
	default:
	}
}

func TestMockSession_CommitAlwaysResponds(t *testing.T) {
	d := &MockDialer{}
	s, err := d.Dial(context.Background(), SessionConfig{OutputFormat: "audio/pcmu"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()

	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got := collectTurn(t, s.Events())
	var delta AudioDelta
	for _, ev := range got {
		if d, ok := ev.(AudioDelta); ok {
			delta = d
		}
	}
	// Half a second of 8 kHz mu-law, one byte per sample.
	if want := 4000; len(delta.Audio) != want {
		t.Fatalf("tone is %d bytes, want %d", len(delta.Audio), want)
	}
}

func TestMockSession_CloseIsIdempotent(t *testing.T) {
	d := &MockDialer{}
	s, err := d.Dial(context.Background(), SessionConfig{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := s.SendAudio([]byte{1}); err != nil {
		t.Fatalf("send after close: %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("event channel still open after close")
	}
}
