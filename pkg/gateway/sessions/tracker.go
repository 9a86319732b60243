package sessions

import (
	"context"
	"sync"
)

// Handle is what a live bridge connection exposes to the tracker: Warn sends
// a warning frame to the client, Cancel asks the connection to shut down.
// Either may be nil.
type Handle struct {
	Warn   func(code, message string) error
	Cancel func()
}

// Tracker registers live bridge connections so graceful shutdown can warn
// them, cancel them, and wait for them to drain.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*trackedEntry
	wg      sync.WaitGroup
}

type trackedEntry struct {
	handle Handle
	gone   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*trackedEntry)}
}

// Register adds a connection under sessionID and returns its unregister
// func. Registering the same sessionID again replaces the previous entry and
// releases it, so a stale registration can never block Wait.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedEntry{handle: h}

	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]*trackedEntry)
	}
	replaced := t.entries[sessionID]
	t.entries[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if replaced != nil {
		t.release(sessionID, replaced)
	}
	return func() { t.release(sessionID, entry) }
}

// release is idempotent per entry; double unregister must not unbalance the
// wait group.
func (t *Tracker) release(sessionID string, entry *trackedEntry) {
	if t == nil || entry == nil {
		return
	}
	entry.gone.Do(func() {
		t.mu.Lock()
		if t.entries[sessionID] == entry {
			delete(t.entries, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count reports how many connections are currently registered.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// collect snapshots the current handles so callbacks run outside the lock.
func (t *Tracker) collect() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	handles := make([]Handle, 0, len(t.entries))
	for _, entry := range t.entries {
		if entry != nil {
			handles = append(handles, entry.handle)
		}
	}
	return handles
}

// WarnAll sends a warning to every live connection, best effort, and reports
// how many were notified.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.collect() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll asks every live connection to shut down and reports how many
// were asked.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.collect() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered connection has unregistered or ctx is
// done, reporting true on a full drain.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
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
