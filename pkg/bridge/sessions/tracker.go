// Package sessions tracks live bridged calls so shutdown can warn and
// drain them instead of cutting audio mid-sentence.
package sessions

import (
	"context"
	"sync"
)

// Call is the tracker's view of one live bridge: a way to stop it and a
// way to tell the downstream party why.
type Call struct {
	Cancel func()
	Notify func(message string) error
}

type entry struct {
	call Call
	once sync.Once
}

// Tracker registers live calls and fans out drain operations. The zero
// value is not usable; call NewTracker.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]*entry
	wg    sync.WaitGroup
}

func NewTracker() *Tracker {
	return &Tracker{calls: make(map[string]*entry)}
}

// Register adds a call under its session id and returns the matching
// unregister func. Registering the same id again evicts the old call.
func (t *Tracker) Register(sessionID string, c Call) (unregister func()) {
	e := &entry{call: c}

	t.mu.Lock()
	prev := t.calls[sessionID]
	t.calls[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if prev != nil {
		t.remove(sessionID, prev)
	}
	return func() { t.remove(sessionID, e) }
}

func (t *Tracker) remove(sessionID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.calls[sessionID] == e {
			delete(t.calls, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// NotifyAll tells every live call's downstream party that the service is
// draining. Send failures are ignored; the call is about to end anyway.
func (t *Tracker) NotifyAll(message string) (sent int) {
	var notifiers []func(string) error
	t.mu.Lock()
	for _, e := range t.calls {
		if e.call.Notify != nil {
			notifiers = append(notifiers, e.call.Notify)
		}
	}
	t.mu.Unlock()

	for _, notify := range notifiers {
		_ = notify(message)
		sent++
	}
	return sent
}

// CancelAll stops every live call.
func (t *Tracker) CancelAll() (canceled int) {
	var cancels []func()
	t.mu.Lock()
	for _, e := range t.calls {
		if e.call.Cancel != nil {
			cancels = append(cancels, e.call.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered call has unregistered or ctx ends.
// Reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if ctx == nil {
		t.wg.Wait()
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
