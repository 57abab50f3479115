package reconnect

import (
	"math/rand"
	"sync"
	"time"

	"github.com/nerrad567/courier-core/internal/scheduler"
)

// Timer arms at most one pending reconnect callback at a time.
type Timer struct {
	sched scheduler.Scheduler
	fire  func()

	mu      sync.Mutex
	enabled bool
	backoff *Backoff
	pending scheduler.Timer
	gen     uint64
}

// NewTimer creates a reconnect timer that calls fire when an armed delay
// elapses. fire runs on the scheduler's goroutine.
func NewTimer(p Policy, sched scheduler.Scheduler, rng *rand.Rand, fire func()) *Timer {
	return &Timer{
		sched:   sched,
		fire:    fire,
		enabled: p.Enabled,
		backoff: NewBackoff(p, rng),
	}
}

// Schedule arms the callback after the next backoff delay, replacing any
// pending one.
//
// Returns:
//   - time.Duration: the armed delay
//   - bool: false if reconnection is disabled or attempts are exhausted
func (t *Timer) Schedule() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return 0, false
	}
	delay, ok := t.backoff.Next()
	if !ok {
		return 0, false
	}
	t.armLocked(delay)
	return delay, true
}

func (t *Timer) armLocked(delay time.Duration) {
	t.stopLocked()
	t.gen++
	gen := t.gen
	t.pending = t.sched.AfterFunc(delay, func() {
		t.mu.Lock()
		if gen != t.gen || t.pending == nil {
			t.mu.Unlock()
			return
		}
		t.pending = nil
		t.mu.Unlock()
		t.fire()
	})
}

// Stop cancels a pending callback. It is safe to call repeatedly.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.gen++
}

// Reset cancels any pending callback and returns the backoff to its
// minimum delay. Called after a successful connection.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.backoff.Reset()
}

// Pending reports whether a callback is armed.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Attempts returns the attempts made since the last Reset.
func (t *Timer) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backoff.Attempts()
}
