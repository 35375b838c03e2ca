package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outFrame is one queued downstream write. Audio frames carry the
// playback generation they belong to; a barge-in bumps the generation so
// stale audio queued behind the clear is silently dropped.
type outFrame struct {
	payload    []byte
	audio      bool
	generation uint64
}

// outboundWriter serializes all downstream writes for one call. Clear and
// error frames go on the priority channel and preempt queued audio.
type outboundWriter struct {
	conn         wsConn
	priority     <-chan outFrame
	normal       <-chan outFrame
	generation   *atomic.Uint64
	pingInterval time.Duration
	writeTimeout time.Duration
}

func (w *outboundWriter) Run(ctx context.Context) error {
	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flushPriority(writeTimeout)
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = w.conn.Close()
			return nil
		default:
		}

		// Drain priority before touching the normal queue.
		select {
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if w.priority == nil && w.normal == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			continue
		case <-ping.C:
			if err := w.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) write(frame outFrame, writeTimeout time.Duration) error {
	if frame.audio && w.generation != nil && frame.generation != w.generation.Load() {
		// Assistant audio from before the last barge-in.
		return nil
	}
	if len(frame.payload) == 0 {
		return nil
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, frame.payload)
}

// flushPriority gives queued clear and error frames a short window to go
// out before the close handshake.
func (w *outboundWriter) flushPriority(writeTimeout time.Duration) {
	if w.priority == nil {
		return
	}
	deadline := time.Now().Add(100 * time.Millisecond)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.priority:
			if !ok {
				return
			}
			_ = w.write(frame, writeTimeout)
		default:
			return
		}
	}
}
