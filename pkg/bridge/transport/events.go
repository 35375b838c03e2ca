// Package transport terminates one downstream wire protocol per adapter
// and normalizes it into a small internal event vocabulary. Adapters are
// state machines over message bytes; the socket and the writer belong to
// the bridge.
package transport

// Event is a normalized downstream occurrence.
type Event interface {
	transportEventType() string
}

// StreamStarted marks the beginning of downstream media. Token carries
// the transport correlation id when the protocol has one.
type StreamStarted struct {
	Token string
}

func (StreamStarted) transportEventType() string { return "stream_started" }

// AudioIn carries one captured frame, already linear16 at 24 kHz.
// MediaClock is the adapter's clock at capture time; zero for transports
// without their own timestamps.
type AudioIn struct {
	PCM        []int16
	MediaClock int64
}

func (AudioIn) transportEventType() string { return "audio_in" }

// StreamStopped signals downstream teardown.
type StreamStopped struct{}

func (StreamStopped) transportEventType() string { return "stream_stopped" }

// BargeIn is an explicit client interruption signal. It always triggers
// interruption, bypassing any energy-threshold detection.
type BargeIn struct{}

func (BargeIn) transportEventType() string { return "barge_in" }

// MarkAck confirms the downstream party played audio up to a named mark.
type MarkAck struct {
	Name string
}

func (MarkAck) transportEventType() string { return "mark_ack" }

// Adapter is the contract the bridge drives. HandleMessage never
// terminates the session for one bad frame; malformed input yields an
// error for the caller to log and drop.
type Adapter interface {
	HandleMessage(data []byte) ([]Event, error)
	// RenderAudio wraps one 24 kHz linear16 assistant frame in the wire
	// format, transcoding as the transport requires.
	RenderAudio(pcm []int16) ([]byte, error)
	// RenderClear produces the wire message that flushes audio the
	// downstream party has buffered but not yet played.
	RenderClear() ([]byte, error)
	// MediaClockDriven reports whether MediaClock advances on transport
	// timestamps; when false the bridge uses wall-clock truncation math.
	MediaClockDriven() bool
	MediaClock() int64
}
