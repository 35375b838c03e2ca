// Package bridge wires one downstream voice connection to one realtime
// model endpoint session: audio transcoding via the transport adapter,
// turn taking and barge-in via the controller, and a single outbound
// writer per call.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/pkg/audio"
	"github.com/voicebridge/voicebridge/pkg/bridge/transport"
	"github.com/voicebridge/voicebridge/pkg/bridge/turn"
	"github.com/voicebridge/voicebridge/pkg/bridge/upstream"
)

// Registry records call sessions. Implementations may be backed by a
// database or an in-memory map; the bridge treats failures as soft.
type Registry interface {
	CreateSession(ctx context.Context, source string, metadata map[string]any) (string, error)
	EndSession(ctx context.Context, id string) error
	MarkSessionError(ctx context.Context, id string, reason string) error
}

// AuditSink accepts fire-and-forget audit records.
type AuditSink interface {
	Audit(ctx context.Context, eventType, sessionID string, metadata map[string]any)
}

// Config is the per-deployment bridge configuration; one value is shared
// by every call.
type Config struct {
	Dialer   upstream.Dialer
	Upstream upstream.SessionConfig
	Turn     turn.Config

	// Greeting makes the assistant speak first once the stream starts.
	Greeting bool
	// TestMode is reported to browser clients in the ready ack.
	TestMode bool

	PingInterval time.Duration
	WriteTimeout time.Duration

	Registry Registry
	Audit    AuditSink
	Logger   *slog.Logger
}

// CallSession is the per-call identity and bookkeeping state. Transcoding
// state lives in the adapter and turn state in the controller; nothing
// here is shared between calls.
type CallSession struct {
	ID        string
	Source    string
	StartedAt time.Time
}

// errStreamEnded marks an orderly downstream stop.
var errStreamEnded = errors.New("downstream stream ended")

type readyRenderer interface {
	RenderReady(sessionID string, testMode bool) ([]byte, error)
}

type errorRenderer interface {
	RenderError(message string) ([]byte, error)
}

type markRenderer interface {
	RenderMark(name string) ([]byte, error)
}

// Bridge runs one call. Construct with New, drive with Run; all fields
// are owned by the Run goroutine after that.
type Bridge struct {
	cfg     Config
	conn    *websocket.Conn
	adapter transport.Adapter
	ctrl    *turn.Controller
	logger  *slog.Logger

	call    CallSession
	session upstream.Session

	generation atomic.Uint64
	priority   chan outFrame
	normal     chan outFrame
	writerDone chan struct{}
	markSeq    int
}

// New prepares a bridge for one accepted downstream connection. source is
// "phone" or "web"; persona selects the system instructions.
func New(conn *websocket.Conn, adapter transport.Adapter, source, persona string, cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	upCfg := cfg.Upstream
	if upCfg.Instructions == "" {
		upCfg.Instructions = InstructionsFor(persona)
	}
	cfg.Upstream = upCfg

	tc := cfg.Turn
	tc.MediaClockDriven = adapter.MediaClockDriven()

	return &Bridge{
		cfg:        cfg,
		conn:       conn,
		adapter:    adapter,
		ctrl:       turn.NewController(tc),
		logger:     cfg.Logger.With("source", source),
		call:       CallSession{Source: source},
		priority:   make(chan outFrame, 16),
		normal:     make(chan outFrame, 256),
		writerDone: make(chan struct{}),
	}
}

// SessionID is empty until the downstream stream has started.
func (b *Bridge) SessionID() string { return b.call.ID }

// NotifyDownstream pushes a human-readable message to the downstream
// party when the transport has an error channel. Used by drain.
func (b *Bridge) NotifyDownstream(message string) error {
	r, ok := b.adapter.(errorRenderer)
	if !ok {
		return nil
	}
	payload, err := r.RenderError(message)
	if err != nil {
		return err
	}
	b.enqueuePriority(payload)
	return nil
}

// Run pumps both directions until the downstream or upstream side closes,
// then tears the other side down. It always returns with no goroutines
// left behind.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := &outboundWriter{
		conn:         b.conn,
		priority:     b.priority,
		normal:       b.normal,
		generation:   &b.generation,
		pingInterval: b.cfg.PingInterval,
		writeTimeout: b.cfg.WriteTimeout,
	}
	go func() {
		defer close(b.writerDone)
		if err := writer.Run(ctx); err != nil {
			b.logger.Warn("downstream writer stopped", "error", err)
		}
	}()

	inbound := make(chan []byte, 64)
	go b.readLoop(ctx, inbound)

	defer b.teardown(cancel)

	for {
		var upstreamEvents <-chan upstream.Event
		if b.session != nil {
			upstreamEvents = b.session.Events()
		}

		select {
		case <-ctx.Done():
			return nil

		case data, ok := <-inbound:
			if !ok {
				return nil
			}
			events, err := b.adapter.HandleMessage(data)
			if err != nil {
				// One bad frame never ends the call.
				b.logger.Warn("drop downstream message", "error", err)
				continue
			}
			for _, ev := range events {
				if err := b.handleDownstream(ctx, ev); err != nil {
					if errors.Is(err, errStreamEnded) {
						return nil
					}
					return err
				}
			}

		case ev, ok := <-upstreamEvents:
			if !ok {
				b.failDownstream(ctx, "assistant connection closed")
				return nil
			}
			if err := b.handleUpstream(ctx, ev); err != nil {
				return nil
			}
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, inbound chan<- []byte) {
	defer close(inbound)
	b.conn.SetReadLimit(512 * 1024)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case inbound <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleDownstream(ctx context.Context, ev transport.Event) error {
	switch e := ev.(type) {
	case transport.StreamStarted:
		return b.startCall(ctx, e)

	case transport.AudioIn:
		if b.session == nil {
			return nil
		}
		cmds := b.ctrl.OnAudioFrame(e.PCM, e.MediaClock)
		if len(cmds) == 1 {
			if _, isCommit := cmds[0].(turn.Commit); isCommit {
				// The closing silence frame belongs to the utterance.
				b.forwardAudio(e.PCM)
				b.execute(cmds)
				return nil
			}
		}
		b.execute(cmds)
		b.forwardAudio(e.PCM)
		return nil

	case transport.BargeIn:
		b.execute(b.ctrl.Interrupt(b.adapter.MediaClock()))
		return nil

	case transport.MarkAck:
		return nil

	case transport.StreamStopped:
		return errStreamEnded

	default:
		return nil
	}
}

func (b *Bridge) startCall(ctx context.Context, e transport.StreamStarted) error {
	b.call.StartedAt = time.Now()
	b.call.ID = b.createSessionID(ctx)
	b.logger = b.logger.With("session_id", b.call.ID)

	session, err := b.cfg.Dialer.Dial(ctx, b.cfg.Upstream)
	if err != nil {
		b.logger.Error("connect model endpoint", "error", err)
		b.failDownstream(ctx, "could not reach the assistant")
		return fmt.Errorf("dial upstream: %w", err)
	}
	b.session = session

	if r, ok := b.adapter.(readyRenderer); ok {
		if payload, err := r.RenderReady(b.call.ID, b.cfg.TestMode); err == nil {
			b.enqueuePriority(payload)
		}
	}
	if b.cfg.Greeting {
		if err := session.Greet(); err != nil {
			b.logger.Warn("send greeting", "error", err)
		}
	}

	b.audit(ctx, "call.started", map[string]any{"source": b.call.Source, "stream_token": e.Token})
	b.logger.Info("call started", "stream_token", e.Token)
	return nil
}

func (b *Bridge) handleUpstream(ctx context.Context, ev upstream.Event) error {
	switch e := ev.(type) {
	case upstream.AudioDelta:
		b.ctrl.OnAudioDelta(e.ItemID, b.adapter.MediaClock())
		pcm := audio.BytesToPCM16(e.Audio)
		payload, err := b.adapter.RenderAudio(pcm)
		if err != nil {
			b.logger.Warn("render assistant audio", "error", err)
			return nil
		}
		b.enqueueAudio(payload)
		if m, ok := b.adapter.(markRenderer); ok {
			b.markSeq++
			if mark, err := m.RenderMark(fmt.Sprintf("part-%d", b.markSeq)); err == nil {
				b.enqueueNormal(mark)
			}
		}
		return nil

	case upstream.SpeechStarted:
		if b.ctrl.PlaybackActive() {
			b.execute(b.ctrl.Interrupt(b.adapter.MediaClock()))
		}
		return nil

	case upstream.ResponseStarted:
		b.ctrl.OnResponseStarted()
		return nil

	case upstream.ResponseDone:
		b.ctrl.OnResponseDone()
		return nil

	case upstream.TranscriptDone:
		b.audit(ctx, "assistant.transcript", map[string]any{"text": e.Text})
		return nil

	case upstream.ErrorEvent:
		b.logger.Error("model endpoint error", "message", e.Message)
		if b.cfg.Registry != nil && b.call.ID != "" {
			_ = b.cfg.Registry.MarkSessionError(ctx, b.call.ID, e.Message)
		}
		b.failDownstream(ctx, "assistant error: "+e.Message)
		return errors.New(e.Message)

	default:
		return nil
	}
}

// execute applies controller commands in order.
func (b *Bridge) execute(cmds []turn.Command) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case turn.Commit:
			if err := b.session.Commit(); err != nil {
				b.logger.Warn("commit turn", "error", err)
			}
		case turn.CancelResponse:
			if err := b.session.CancelResponse(); err != nil {
				b.logger.Warn("cancel response", "error", err)
			}
		case turn.TruncateItem:
			if err := b.session.Truncate(c.ItemID, c.ElapsedMS); err != nil {
				b.logger.Warn("truncate assistant item", "error", err)
			}
		case turn.ClearUpstreamInput:
			if err := b.session.ClearInput(); err != nil {
				b.logger.Warn("clear input buffer", "error", err)
			}
		case turn.ClearDownstream:
			b.generation.Add(1)
			if payload, err := b.adapter.RenderClear(); err == nil {
				b.enqueuePriority(payload)
			}
		}
	}
}

func (b *Bridge) forwardAudio(pcm []int16) {
	if err := b.session.SendAudio(audio.PCM16ToBytes(pcm)); err != nil {
		b.logger.Warn("forward audio upstream", "error", err)
	}
}

func (b *Bridge) enqueueAudio(payload []byte) {
	frame := outFrame{payload: payload, audio: true, generation: b.generation.Load()}
	select {
	case b.normal <- frame:
	default:
		b.logger.Warn("downstream audio queue full, dropping frame")
	}
}

func (b *Bridge) enqueueNormal(payload []byte) {
	select {
	case b.normal <- outFrame{payload: payload}:
	default:
	}
}

func (b *Bridge) enqueuePriority(payload []byte) {
	select {
	case b.priority <- outFrame{payload: payload}:
	default:
		b.logger.Warn("downstream priority queue full, dropping frame")
	}
}

// failDownstream tells the downstream party why the call is ending, on
// transports that can carry an error message.
func (b *Bridge) failDownstream(ctx context.Context, message string) {
	_ = b.NotifyDownstream(message)
	b.audit(ctx, "call.error", map[string]any{"message": message})
}

func (b *Bridge) createSessionID(ctx context.Context) string {
	if b.cfg.Registry != nil {
		id, err := b.cfg.Registry.CreateSession(ctx, b.call.Source, map[string]any{
			"started_at": b.call.StartedAt.UTC().Format(time.RFC3339),
		})
		if err == nil && id != "" {
			return id
		}
		if err != nil {
			b.logger.Warn("create session record", "error", err)
		}
	}
	return uuid.NewString()
}

func (b *Bridge) audit(ctx context.Context, eventType string, metadata map[string]any) {
	if b.cfg.Audit == nil {
		return
	}
	b.cfg.Audit.Audit(ctx, eventType, b.call.ID, metadata)
}

func (b *Bridge) teardown(cancel context.CancelFunc) {
	cancel()
	if b.session != nil {
		_ = b.session.Close()
	}
	if b.call.ID != "" {
		endCtx, endCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer endCancel()
		if b.cfg.Registry != nil {
			_ = b.cfg.Registry.EndSession(endCtx, b.call.ID)
		}
		b.audit(endCtx, "call.ended", map[string]any{
			"duration_ms": time.Since(b.call.StartedAt).Milliseconds(),
		})
		b.logger.Info("call ended", "duration", time.Since(b.call.StartedAt))
	}
	<-b.writerDone
}
