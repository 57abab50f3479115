// Package netwatch reports changes in host network reachability.
//
// A Watcher polls the host's interfaces and calls its callback only when
// the answer to "is there a usable non-loopback address?" changes.
package netwatch

import (
	"net"
	"sync"
	"time"

	"github.com/nerrad567/courier-core/internal/scheduler"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 5 * time.Second

// Probe reports whether the host currently has network access.
type Probe func() bool

// Logger defines the logging interface for the watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Watcher polls a Probe and reports transitions.
type Watcher struct {
	interval time.Duration
	probe    Probe
	sched    scheduler.Scheduler
	onChange func(available bool)
	logger   Logger

	mu      sync.Mutex
	ticker  scheduler.Timer
	known   bool
	current bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithProbe replaces the interface probe.
func WithProbe(p Probe) Option {
	return func(w *Watcher) { w.probe = p }
}

// WithScheduler replaces the system scheduler.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(w *Watcher) { w.sched = s }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher that calls onChange on every reachability change.
// A non-positive interval selects DefaultInterval.
func New(interval time.Duration, onChange func(available bool), opts ...Option) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	w := &Watcher{
		interval: interval,
		probe:    InterfacesUp,
		sched:    scheduler.System(),
		onChange: onChange,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start takes a first reading and begins polling. The first reading is
// only reported if it says the network is down.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.ticker != nil {
		w.mu.Unlock()
		return
	}
	w.ticker = w.sched.Every(w.interval, w.Check)
	w.mu.Unlock()

	w.Check()
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
}

// Available returns the last reading.
func (w *Watcher) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Check takes one reading and reports it if it changed.
func (w *Watcher) Check() {
	up := w.probe()

	w.mu.Lock()
	first := !w.known
	changed := first || up != w.current
	w.known = true
	w.current = up
	w.mu.Unlock()

	if !changed || (first && up) {
		return
	}
	w.logger.Info("network reachability changed", "available", up)
	if w.onChange != nil {
		w.onChange(up)
	}
}

// InterfacesUp reports whether any non-loopback interface is up with a
// global unicast address.
func InterfacesUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
				return true
			}
		}
	}
	return false
}
