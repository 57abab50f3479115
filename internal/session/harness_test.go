package session

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/courier-core/internal/persistence"
	"github.com/nerrad567/courier-core/internal/reconnect"
	"github.com/nerrad567/courier-core/internal/scheduler"
	"github.com/nerrad567/courier-core/internal/transport"
)

const waitTimeout = 2 * time.Second

// ============================================================================
// Fake transport
// ============================================================================

// fakeTransport records what the session sends and lets the test play the
// broker's side of the connection.
type fakeTransport struct {
	h      transport.Handler
	opened chan struct{}
	sent   chan packets.ControlPacket
	closed atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		opened: make(chan struct{}),
		sent:   make(chan packets.ControlPacket, 64),
	}
}

func (f *fakeTransport) Open(_ context.Context, h transport.Handler) error {
	f.h = h
	close(f.opened)
	return nil
}

func (f *fakeTransport) Send(b []byte) error {
	if f.closed.Load() {
		return transport.ErrClosed
	}
	cp, err := packets.ReadPacket(bytes.NewReader(b))
	if err != nil {
		return err
	}
	f.sent <- cp
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

// handler waits for Open and returns the session's callbacks.
func (f *fakeTransport) handler() transport.Handler {
	select {
	case <-f.opened:
		return f.h
	case <-time.After(waitTimeout):
		panic("fake transport never opened")
	}
}

// open reports the connection as established.
func (f *fakeTransport) open() {
	f.handler().HandleOpen()
}

// fail reports a broken connection.
func (f *fakeTransport) fail(err error) {
	f.handler().HandleError(err)
}

// inject delivers cp to the session as broker traffic.
func (f *fakeTransport) inject(t *testing.T, cp packets.ControlPacket) {
	t.Helper()
	b, err := encode(cp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.handler().HandleData(b)
}

// expect waits for the next packet sent by the session.
func (f *fakeTransport) expect(t *testing.T) packets.ControlPacket {
	t.Helper()
	select {
	case cp := <-f.sent:
		return cp
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a sent packet")
		return nil
	}
}

// expectNone asserts that nothing is sent for a short while.
func (f *fakeTransport) expectNone(t *testing.T) {
	t.Helper()
	select {
	case cp := <-f.sent:
		t.Fatalf("unexpected packet sent: %s", cp.String())
	case <-time.After(50 * time.Millisecond):
	}
}

// ============================================================================
// Recording handler
// ============================================================================

type stateEvent struct {
	state State
	err   error
}

type recordingHandler struct {
	states   chan stateEvent
	messages chan Message
	acks     chan uint16
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		states:   make(chan stateEvent, 64),
		messages: make(chan Message, 64),
		acks:     make(chan uint16, 64),
	}
}

// recorder is a Handler whose events land in a recordingHandler.
type recorder interface {
	Handler
	recorder() *recordingHandler
}

func (r *recordingHandler) recorder() *recordingHandler {
	return r
}

func (r *recordingHandler) ConnectionStateChanged(s State, err error) {
	r.states <- stateEvent{state: s, err: err}
}

func (r *recordingHandler) MessageReceived(m Message) {
	r.messages <- m
}

func (r *recordingHandler) PublishAcknowledged(id uint16, _ string) {
	r.acks <- id
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	s          *Session
	clock      *scheduler.Fake
	store      persistence.Store
	events     *recordingHandler
	transports chan *fakeTransport
}

// testConfig returns a config with keep-alive off and a 1s reconnect delay.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ClientID = "test-client"
	cfg.KeepAlive = 0
	cfg.Reconnect = reconnect.Policy{
		Enabled:      true,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, persistence.NewMemoryStore(persistence.Limits{}))
}

func newHarnessWithStore(t *testing.T, cfg Config, store persistence.Store) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, store, newRecordingHandler())
}

// newHarnessWith builds a harness around handler. State changes are
// observed through the embedded recordingHandler's channels.
func newHarnessWith(t *testing.T, cfg Config, store persistence.Store, handler recorder) *harness {
	t.Helper()
	h := &harness{
		clock:      scheduler.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		store:      store,
		events:     handler.recorder(),
		transports: make(chan *fakeTransport, 8),
	}
	s, err := New(cfg, Deps{
		NewTransport: func() (transport.Transport, error) {
			tr := newFakeTransport()
			h.transports <- tr
			return tr, nil
		},
		Store:     store,
		Scheduler: h.clock,
		Handler:   handler,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.s = s
	t.Cleanup(func() { s.Close() }) //nolint:errcheck // Close always returns nil
	return h
}

func (h *harness) nextTransport(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case tr := <-h.transports:
		return tr
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a transport")
		return nil
	}
}

func (h *harness) expectNoTransport(t *testing.T) {
	t.Helper()
	select {
	case <-h.transports:
		t.Fatal("unexpected connection attempt")
	case <-time.After(50 * time.Millisecond):
	}
}

// expectState waits for the next state change and checks it.
func (h *harness) expectState(t *testing.T, want State) stateEvent {
	t.Helper()
	select {
	case ev := <-h.events.states:
		if ev.state != want {
			t.Fatalf("state = %v (err %v), want %v", ev.state, ev.err, want)
		}
		return ev
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for state %v", want)
		return stateEvent{}
	}
}

func (h *harness) expectMessage(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-h.events.messages:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a message")
		return Message{}
	}
}

func (h *harness) expectNoMessage(t *testing.T) {
	t.Helper()
	select {
	case m := <-h.events.messages:
		t.Fatalf("unexpected message on %q", m.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

// handshake completes CONNECT/CONNACK on tr, which must be the transport
// of a session that has just entered Connecting.
func (h *harness) handshake(t *testing.T, tr *fakeTransport) {
	t.Helper()
	tr.open()
	if _, ok := tr.expect(t).(*packets.ConnectPacket); !ok {
		t.Fatal("first packet is not CONNECT")
	}
	tr.inject(t, connack(packets.Accepted))
	h.expectState(t, StateConnected)
}

// connect runs Connect through to Connected and returns the transport.
func (h *harness) connect(t *testing.T) *fakeTransport {
	t.Helper()
	if err := h.s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tr := h.nextTransport(t)
	h.expectState(t, StateConnecting)
	h.handshake(t, tr)
	return tr
}

func waitToken(t *testing.T, tok *Token) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := tok.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for token")
	}
	return err
}

func connack(code byte) *packets.ConnackPacket {
	p := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	p.ReturnCode = code
	return p
}

func expectPublish(t *testing.T, cp packets.ControlPacket) *packets.PublishPacket {
	t.Helper()
	p, ok := cp.(*packets.PublishPacket)
	if !ok {
		t.Fatalf("sent %s, want PUBLISH", cp.String())
	}
	return p
}
