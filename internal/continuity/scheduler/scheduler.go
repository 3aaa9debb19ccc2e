// Package scheduler provides keyed one-shot and recurring timers.
//
// Every timer is owned by a string key (game id, connection id, or a
// prefixed compound of either) so the owning condition can cancel it without
// holding a handle. Cancel is idempotent: cancelling a fired, cancelled, or
// unknown key is a no-op.
package scheduler

import (
	"strings"
	"sync"
	"time"
)

// Scheduler schedules and cancels keyed timer work.
type Scheduler interface {
	// After runs fn once after d. A second After with the same key replaces
	// the pending timer.
	After(key string, d time.Duration, fn func())
	// Every runs fn repeatedly at interval d until the key is cancelled.
	// A second Every with the same key replaces the running ticker.
	Every(key string, d time.Duration, fn func())
	// Cancel stops the timer or ticker registered under key, if any.
	Cancel(key string)
	// CancelPrefix cancels every key with the given prefix.
	CancelPrefix(prefix string)
	// Stop cancels everything. The scheduler is unusable afterwards.
	Stop()
}

type entry struct {
	timer *time.Timer
	done  chan struct{}
}

// Timers is the production Scheduler backed by the runtime timer heap.
type Timers struct {
	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
}

// New returns an empty timer scheduler.
func New() *Timers {
	return &Timers{entries: make(map[string]*entry)}
}

// After implements Scheduler.
func (t *Timers) After(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.cancelLocked(key)

	e := &entry{}
	e.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.entries[key] == e {
			delete(t.entries, key)
		}
		t.mu.Unlock()
		fn()
	})
	t.entries[key] = e
}

// Every implements Scheduler.
func (t *Timers) Every(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.cancelLocked(key)

	e := &entry{done: make(chan struct{})}
	t.entries[key] = e
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-e.done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Cancel implements Scheduler.
func (t *Timers) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(key)
}

// CancelPrefix implements Scheduler.
func (t *Timers) CancelPrefix(prefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		if strings.HasPrefix(key, prefix) {
			t.cancelLocked(key)
		}
	}
}

// Stop implements Scheduler.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		t.cancelLocked(key)
	}
	t.stopped = true
}

func (t *Timers) cancelLocked(key string) {
	e, ok := t.entries[key]
	if !ok {
		return
	}
	delete(t.entries, key)
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.done != nil {
		close(e.done)
	}
}
