package session

import "sync"

// dispatcher runs handler callbacks in order on its own goroutine, so the
// session loop never blocks on, or re-enters through, a handler.
type dispatcher struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) push(f func()) {
	d.mu.Lock()
	d.queue = append(d.queue, f)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, f := range batch {
			f()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-d.wake:
		case <-d.quit:
			d.mu.Lock()
			rest := d.queue
			d.queue = nil
			d.mu.Unlock()
			for _, f := range rest {
				f()
			}
			return
		}
	}
}

// stop delivers what is queued and waits for the goroutine to exit.
func (d *dispatcher) stop() {
	close(d.quit)
	<-d.done
}
