// Package turn decides when captured user audio becomes a committed turn
// and how assistant playback is unwound when the user barges in. The
// controller is pure state: it consumes frame classifications and playback
// events and returns ordered command lists for the caller to execute, so
// the decision logic is testable without sockets.
package turn

import (
	"time"

	"github.com/voicebridge/voicebridge/pkg/audio"
)

// Policy selects who detects end of user speech.
type Policy int

const (
	// PolicyServerVAD delegates turn detection to the model endpoint.
	// Frames flow upstream unconditionally and the endpoint decides when
	// to respond.
	PolicyServerVAD Policy = iota
	// PolicyLocalVAD classifies frames by RMS energy locally and commits
	// after a run of silence.
	PolicyLocalVAD
)

const (
	DefaultRMSThreshold  = 150
	DefaultSilenceFrames = 55
	DefaultCooldown      = 2 * time.Second
)

// Config tunes the local VAD. Zero values take the defaults above.
type Config struct {
	Policy        Policy
	RMSThreshold  float64
	SilenceFrames int
	Cooldown      time.Duration
	// MediaClockDriven selects the truncation clock: transport timestamps
	// when true (phone), wall clock when false (browser).
	MediaClockDriven bool
}

// Command is an action the controller wants executed, in list order.
type Command interface {
	commandType() string
}

// Commit flushes buffered input audio upstream and requests a response.
type Commit struct{}

func (Commit) commandType() string { return "commit" }

// CancelResponse aborts the in-flight model response.
type CancelResponse struct{}

func (CancelResponse) commandType() string { return "cancel_response" }

// TruncateItem reports how much of the named assistant item was heard.
type TruncateItem struct {
	ItemID    string
	ElapsedMS int64
}

func (TruncateItem) commandType() string { return "truncate_item" }

// ClearUpstreamInput discards uncommitted input audio upstream.
type ClearUpstreamInput struct{}

func (ClearUpstreamInput) commandType() string { return "clear_upstream_input" }

// ClearDownstream flushes audio the downstream party has buffered but not
// yet played.
type ClearDownstream struct{}

func (ClearDownstream) commandType() string { return "clear_downstream" }

type vadState int

const (
	vadIdle vadState = iota
	vadSpeaking
)

// Controller is the per-call turn state machine. Not safe for concurrent
// use; the bridge loop is its single caller.
type Controller struct {
	cfg Config
	now func() time.Time

	state         vadState
	silenceFrames int
	hasUserSpoken bool
	hasCommitted  bool
	cooldownUntil time.Time

	responding bool

	// Assistant playback currently streaming downstream. itemID doubles
	// as the "playback active" flag.
	itemID       string
	startedClock int64
	startedWall  time.Time
	startedSet   bool
}

func NewController(cfg Config) *Controller {
	if cfg.RMSThreshold <= 0 {
		cfg.RMSThreshold = DefaultRMSThreshold
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = DefaultSilenceFrames
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Controller{cfg: cfg, now: time.Now}
}

// OnAudioFrame classifies one captured frame. The caller forwards the
// frame upstream regardless of the returned commands; classification only
// gates commit and barge-in.
func (c *Controller) OnAudioFrame(samples []int16, mediaClock int64) []Command {
	if c.cfg.Policy != PolicyLocalVAD {
		return nil
	}

	speech := audio.RMS(samples) > c.cfg.RMSThreshold
	if speech {
		// Speech over live assistant audio is a barge-in.
		if c.itemID != "" {
			return c.Interrupt(mediaClock)
		}
		c.state = vadSpeaking
		c.hasUserSpoken = true
		c.hasCommitted = false
		c.silenceFrames = 0
		return nil
	}

	if c.state != vadSpeaking {
		return nil
	}
	c.silenceFrames++
	if c.silenceFrames < c.cfg.SilenceFrames {
		return nil
	}
	c.state = vadIdle
	c.silenceFrames = 0
	if !c.hasUserSpoken || c.hasCommitted || c.responding || c.inCooldown() {
		return nil
	}
	c.hasCommitted = true
	return []Command{Commit{}}
}

// Interrupt unwinds assistant playback after a barge-in trigger: explicit
// client signal, endpoint speech-started, or local VAD speech over
// playback. Safe to call repeatedly; a second call finds no assistant
// item and emits no truncate.
func (c *Controller) Interrupt(mediaClock int64) []Command {
	cmds := []Command{CancelResponse{}}
	if c.itemID != "" {
		cmds = append(cmds, TruncateItem{ItemID: c.itemID, ElapsedMS: c.elapsedMS(mediaClock)})
	}
	cmds = append(cmds, ClearUpstreamInput{}, ClearDownstream{})

	c.itemID = ""
	c.startedSet = false
	c.startedClock = 0
	c.startedWall = time.Time{}
	c.responding = false
	c.state = vadIdle
	c.silenceFrames = 0
	c.cooldownUntil = c.now().Add(c.cfg.Cooldown)
	return cmds
}

func (c *Controller) elapsedMS(mediaClock int64) int64 {
	if !c.startedSet {
		return 0
	}
	var elapsed int64
	if c.cfg.MediaClockDriven {
		elapsed = mediaClock - c.startedClock
	} else {
		elapsed = c.now().Sub(c.startedWall).Milliseconds()
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

// OnAudioDelta records which assistant item is streaming and, on the
// first chunk of a response, when its playback began.
func (c *Controller) OnAudioDelta(itemID string, mediaClock int64) {
	if itemID != "" {
		c.itemID = itemID
	} else if c.itemID == "" {
		c.itemID = "assistant"
	}
	if !c.startedSet {
		c.startedSet = true
		c.startedClock = mediaClock
		c.startedWall = c.now()
	}
}

func (c *Controller) OnResponseStarted() {
	c.responding = true
}

// OnResponseDone clears playback tracking with natural completion.
func (c *Controller) OnResponseDone() {
	c.responding = false
	c.itemID = ""
	c.startedSet = false
	c.startedClock = 0
	c.startedWall = time.Time{}
}

// PlaybackActive reports whether assistant audio is currently in flight.
func (c *Controller) PlaybackActive() bool { return c.itemID != "" }

// Responding reports whether the endpoint is generating a response.
func (c *Controller) Responding() bool { return c.responding }

func (c *Controller) inCooldown() bool {
	return c.now().Before(c.cooldownUntil)
}
