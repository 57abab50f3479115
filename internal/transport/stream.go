package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// flushTimeout bounds how long Close waits for queued writes.
const flushTimeout = 5 * time.Second

// conn is the byte stream a dialer produces.
type conn = io.ReadWriteCloser

type dialFunc func(ctx context.Context) (conn, error)

// stream implements Transport on top of any dialer.
type stream struct {
	name string
	dial dialFunc

	mu       sync.Mutex
	handler  Handler
	conn     conn
	opened   bool
	ready    bool
	closing  bool
	closed   bool
	cancel   context.CancelFunc
	sendq    chan []byte
	flush    chan struct{}
	done     chan struct{}
	terminal sync.Once
}

func newStream(name string, cfg Config, dial dialFunc) *stream {
	return &stream{
		name:  name,
		dial:  dial,
		sendq: make(chan []byte, cfg.SendQueue),
		flush: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Open implements Transport.
func (s *stream) Open(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return ErrAlreadyOpened
	}
	s.opened = true
	s.handler = h

	dialCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(dialCtx)
	return nil
}

func (s *stream) run(ctx context.Context) {
	c, err := s.dial(ctx)
	s.cancel()
	if err != nil {
		s.finish(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close() //nolint:errcheck // Closed before the dial completed
		return
	}
	s.conn = c
	s.ready = true
	s.mu.Unlock()

	s.handler.HandleOpen()

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *stream) readLoop(c conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.handler.HandleData(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.finish(nil)
			} else {
				s.finish(err)
			}
			return
		}
	}
}

func (s *stream) writeLoop(c conn) {
	for {
		select {
		case <-s.done:
			return
		case b := <-s.sendq:
			if _, err := c.Write(b); err != nil {
				s.finish(err)
				return
			}
		case <-s.flush:
			s.drain(c)
			return
		}
	}
}

// drain writes whatever is still queued, then closes the stream cleanly.
func (s *stream) drain(c conn) {
	if dc, ok := c.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = dc.SetWriteDeadline(time.Now().Add(flushTimeout)) //nolint:errcheck // Best effort
	}
	for {
		select {
		case b := <-s.sendq:
			if _, err := c.Write(b); err != nil {
				s.finish(nil)
				return
			}
		default:
			s.finish(nil)
			return
		}
	}
}

// Send implements Transport.
func (s *stream) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.closing {
		return ErrClosed
	}
	if !s.ready {
		return ErrNotOpen
	}

	select {
	case s.sendq <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close implements Transport. Data already accepted by Send is written
// before the connection is closed.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.ready && !s.closed && !s.closing {
		s.closing = true
		close(s.flush)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.finish(nil)
	return nil
}

// finish moves the stream to its terminal state and reports it once.
func (s *stream) finish(err error) {
	s.terminal.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		c := s.conn
		h := s.handler
		s.mu.Unlock()

		if c != nil {
			c.Close() //nolint:errcheck // Terminal state already decided
		}
		if h == nil {
			return
		}
		if err != nil {
			h.HandleError(err)
		} else {
			h.HandleClosed()
		}
	})
}

// String returns the transport variant name.
func (s *stream) String() string {
	return s.name
}
