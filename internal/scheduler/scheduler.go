// Package scheduler provides cancellable one-shot and repeating timers.
//
// Session code never touches time.Timer directly. It asks a Scheduler for
// timers so that tests can substitute Fake and drive time by hand.
package scheduler

import (
	"sync"
	"time"
)

// Timer is a pending callback. Stop is idempotent and reports whether the
// call prevented a future run.
type Timer interface {
	Stop() bool
}

// Scheduler creates timers.
type Scheduler interface {
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Timer

	// Every runs f every d until the returned timer is stopped.
	Every(d time.Duration, f func()) Timer

	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}

// System returns a Scheduler backed by the runtime timers.
func System() Scheduler {
	return systemScheduler{}
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemScheduler) Every(d time.Duration, f func()) Timer {
	t := &ticker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.loop(f)
	return t
}

func (systemScheduler) Now() time.Time {
	return time.Now()
}

// ticker runs a callback on every tick until stopped.
type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) loop(f func()) {
	defer t.ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			select {
			case <-t.done:
				return
			default:
			}
			f()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.done)
		stopped = true
	})
	return stopped
}
