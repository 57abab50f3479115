package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/courier-core/internal/decoder"
	"github.com/nerrad567/courier-core/internal/persistence"
	"github.com/nerrad567/courier-core/internal/reconnect"
	"github.com/nerrad567/courier-core/internal/scheduler"
	"github.com/nerrad567/courier-core/internal/transport"
)

// opsQueueSize is the number of pending closures the loop accepts before
// callers block.
const opsQueueSize = 256

// maxMessageID is the largest MQTT packet identifier.
const maxMessageID = 65535

// Session is a single MQTT client session. See the package documentation
// for the threading model.
type Session struct {
	cfg          Config
	newTransport func() (transport.Transport, error)
	store        persistence.Store
	sched        scheduler.Scheduler
	handler      Handler
	log          Logger

	ctx    context.Context
	cancel context.CancelFunc
	ops    chan func()
	quit   chan struct{}
	done   chan struct{}
	events *dispatcher

	closeOnce sync.Once
	state     atomic.Int32

	// Owned by the loop goroutine.
	link           *link
	userDisconnect bool
	reconnect      *reconnect.Timer
	connectTimer   scheduler.Timer
	keepAlive      scheduler.Timer
	idleCheck      scheduler.Timer
	pingPending    bool
	lastInbound    time.Time
	lastOutbound   time.Time
	nextID         uint16
	outFlows       map[uint16]string
	pubTokens      map[uint16]*Token
	subTokens      map[uint16]*Token
	unsubTokens    map[uint16]*Token
}

// New creates a Session in the Disconnected state and starts its loop.
//
// Parameters:
//   - cfg: session parameters; an empty ClientID is replaced with a
//     generated "courier-<uuid>"
//   - deps: collaborators; NewTransport is required
//
// Returns:
//   - *Session: ready for Connect
//   - error: if deps are incomplete or the store cannot be read
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.NewTransport == nil {
		return nil, errors.New("session: NewTransport is required")
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = GenerateClientID()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Will != nil && cfg.Will.QoS > 2 {
		return nil, fmt.Errorf("%w: will qos %d", ErrInvalidQoS, cfg.Will.QoS)
	}

	s := &Session{
		cfg:          cfg,
		newTransport: deps.NewTransport,
		store:        deps.Store,
		sched:        deps.Scheduler,
		handler:      deps.Handler,
		log:          deps.Logger,
		ops:          make(chan func(), opsQueueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		outFlows:     make(map[uint16]string),
		pubTokens:    make(map[uint16]*Token),
		subTokens:    make(map[uint16]*Token),
		unsubTokens:  make(map[uint16]*Token),
	}
	if s.store == nil {
		s.store = persistence.NewMemoryStore(persistence.Limits{})
	}
	if s.sched == nil {
		s.sched = scheduler.System()
	}
	if s.handler == nil {
		s.handler = noopHandler{}
	}
	if s.log == nil {
		s.log = noopLogger{}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	flows, err := s.store.Pending(s.ctx, cfg.ClientID, persistence.Outgoing)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("loading pending flows: %w", err)
	}
	for _, f := range flows {
		s.outFlows[f.MessageID] = f.Topic
	}

	s.reconnect = reconnect.NewTimer(cfg.Reconnect, s.sched, nil, func() {
		s.post(s.reconnectFired)
	})
	s.events = newDispatcher()
	go s.loop()
	return s, nil
}

// ClientID returns the client identifier sent to the broker.
func (s *Session) ClientID() string {
	return s.cfg.ClientID
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Store returns the flow store backing this session.
func (s *Session) Store() persistence.Store {
	return s.store
}

// ============================================================================
// Serial loop
// ============================================================================

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			return
		}
	}
}

// post queues f for the loop. It drops f once the session is closed.
func (s *Session) post(f func()) {
	select {
	case s.ops <- f:
	case <-s.quit:
	}
}

// call runs f on the loop and waits for its result. It must not be called
// from the loop goroutine.
func (s *Session) call(f func() error) error {
	result := make(chan error, 1)
	select {
	case s.ops <- func() { result <- f() }:
	case <-s.quit:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.quit:
		return ErrClosed
	}
}

func (s *Session) emit(f func(h Handler)) {
	h := s.handler
	s.events.push(func() { f(h) })
}

func (s *Session) setState(st State, err error) {
	if State(s.state.Load()) == st && err == nil {
		return
	}
	s.state.Store(int32(st))
	s.emit(func(h Handler) { h.ConnectionStateChanged(st, err) })
}

func (s *Session) current() State {
	return State(s.state.Load())
}

// ============================================================================
// Connection management
// ============================================================================

// Connect starts connecting. Progress is reported through
// Handler.ConnectionStateChanged.
func (s *Session) Connect() error {
	return s.call(func() error {
		if s.link != nil {
			return ErrAlreadyConnected
		}
		s.userDisconnect = false
		s.reconnect.Stop()
		return s.dial()
	})
}

// Reconnect forces an immediate connection attempt with the reconnect
// backoff reset. It does nothing while a connection is up or being made.
func (s *Session) Reconnect() error {
	return s.call(func() error {
		if s.link != nil {
			return nil
		}
		s.userDisconnect = false
		s.reconnect.Reset()
		return s.dial()
	})
}

// Disconnect closes the connection without reconnecting. A DISCONNECT
// packet is sent first when connected.
func (s *Session) Disconnect() error {
	return s.call(func() error {
		s.disconnect()
		return nil
	})
}

func (s *Session) disconnect() {
	s.userDisconnect = true
	s.reconnect.Stop()

	l := s.link
	if l == nil {
		s.setState(StateDisconnected, nil)
		return
	}
	if s.current() == StateConnected {
		s.setState(StateDisconnecting, nil)
		s.send(l, packets.NewControlPacket(packets.Disconnect))
	}
	s.teardown()
	s.failAcks(ErrConnectionLost)
	s.setState(StateDisconnected, nil)
	s.log.Info("session disconnected", "client_id", s.cfg.ClientID)
}

// Close disconnects and stops the session. Pending tokens are completed
// with ErrClosed. Close is idempotent. It waits for queued Handler calls,
// so it must not be called from inside one.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.call(func() error { //nolint:errcheck // Only fails once already closed
			s.disconnect()
			for id, tok := range s.pubTokens {
				tok.complete(ErrClosed)
				delete(s.pubTokens, id)
			}
			return nil
		})
		close(s.quit)
		<-s.done
		s.cancel()
		s.events.stop()
	})
	return nil
}

func (s *Session) dial() error {
	tr, err := s.newTransport()
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}

	l := &link{s: s, tr: tr}
	l.dec = decoder.New(l, decoder.WithMaxFrameSize(s.cfg.MaxFrameSize))
	s.link = l
	s.pingPending = false
	s.connectTimer = s.sched.AfterFunc(s.cfg.ConnectTimeout, func() {
		s.post(func() {
			if s.link == l && s.current() == StateConnecting {
				s.connectionLost(l, ErrConnectTimeout)
			}
		})
	})
	s.setState(StateConnecting, nil)

	s.log.Debug("connecting", "client_id", s.cfg.ClientID)
	if err := tr.Open(s.ctx, l); err != nil {
		s.connectionLost(l, err)
	}
	return nil
}

func (s *Session) reconnectFired() {
	if s.link != nil || s.userDisconnect {
		return
	}
	s.log.Info("reconnecting", "client_id", s.cfg.ClientID, "attempt", s.reconnect.Attempts())
	if err := s.dial(); err != nil {
		s.log.Warn("reconnect attempt failed", "error", err)
		s.connectionFailed(err)
	}
}

// connectionLost handles every way a connection can end other than a
// caller's Disconnect.
func (s *Session) connectionLost(l *link, cause error) {
	if l != s.link {
		return
	}
	s.teardown()
	s.failAcks(ErrConnectionLost)

	if s.userDisconnect {
		s.setState(StateDisconnected, nil)
		return
	}
	s.log.Warn("connection lost", "client_id", s.cfg.ClientID, "error", cause)
	s.connectionFailed(cause)
}

// connectionFailed reports the loss and arms the reconnect timer.
func (s *Session) connectionFailed(cause error) {
	if s.cfg.Reconnect.Enabled {
		delay, ok := s.reconnect.Schedule()
		if ok {
			s.log.Debug("reconnect scheduled", "delay", delay)
		} else {
			cause = fmt.Errorf("%w: %w", ErrReconnectExhausted, cause)
		}
	}
	s.setState(StateDisconnected, cause)
}

// teardown detaches and closes the current link and stops its timers.
func (s *Session) teardown() {
	l := s.link
	if l == nil {
		return
	}
	s.link = nil
	l.detached.Store(true)

	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.keepAlive != nil {
		s.keepAlive.Stop()
		s.keepAlive = nil
	}
	if s.idleCheck != nil {
		s.idleCheck.Stop()
		s.idleCheck = nil
	}
	s.pingPending = false

	l.dec.Close()
	l.tr.Close() //nolint:errcheck // Terminal callbacks are ignored once detached
}

// failAcks completes tokens whose acknowledgement cannot arrive on a new
// connection. Publish tokens survive because their flows are replayed.
func (s *Session) failAcks(err error) {
	for id, tok := range s.subTokens {
		tok.complete(err)
		delete(s.subTokens, id)
	}
	for id, tok := range s.unsubTokens {
		tok.complete(err)
		delete(s.unsubTokens, id)
	}
}

func (s *Session) send(l *link, cp packets.ControlPacket) bool {
	b, err := encode(cp)
	if err != nil {
		s.log.Error("encoding packet failed", "error", err)
		return false
	}
	if err := l.tr.Send(b); err != nil {
		s.connectionLost(l, fmt.Errorf("sending %s: %w", packets.PacketNames[b[0]>>4], err))
		return false
	}
	s.lastOutbound = s.sched.Now()
	return true
}

func (s *Session) startKeepAlive(l *link) {
	if s.cfg.KeepAlive <= 0 {
		return
	}
	s.keepAlive = s.sched.Every(s.cfg.KeepAlive, func() {
		s.post(func() { s.keepAliveTick(l) })
	})
}

func (s *Session) keepAliveTick(l *link) {
	if l != s.link || s.current() != StateConnected {
		return
	}
	if s.pingPending {
		s.connectionLost(l, ErrKeepAliveTimeout)
		return
	}
	if s.send(l, packets.NewControlPacket(packets.Pingreq)) {
		s.pingPending = true
	}
}

func (s *Session) startIdleCheck(l *link) {
	p := s.cfg.Idle
	if !p.Enabled || p.Interval <= 0 {
		return
	}
	s.idleCheck = s.sched.Every(p.Interval, func() {
		s.post(func() { s.idleTick(l) })
	})
}

func (s *Session) idleTick(l *link) {
	if l != s.link || s.current() != StateConnected {
		return
	}
	p := s.cfg.Idle
	now := s.sched.Now()

	if p.ReadTimeout > 0 && now.Sub(s.lastInbound) >= p.ReadTimeout {
		s.connectionLost(l, fmt.Errorf("%w: nothing read for %v", ErrReadTimeout, now.Sub(s.lastInbound)))
		return
	}

	last := s.lastInbound
	if s.lastOutbound.After(last) {
		last = s.lastOutbound
	}
	// A keep-alive PINGREQ already in flight will produce the reply.
	if p.InactivityTimeout > 0 && now.Sub(last) >= p.InactivityTimeout && !s.pingPending {
		s.log.Debug("link idle, sending PINGREQ", "idle", now.Sub(last))
		s.send(l, packets.NewControlPacket(packets.Pingreq))
	}
}

// ============================================================================
// Operations
// ============================================================================

// Publish sends an application message.
//
// QoS 0 messages need a connection and complete as soon as they are
// queued for writing. QoS 1 and 2 messages are recorded as flows first;
// while offline they are kept for the next connect if QueueOffline is set.
//
// Returns:
//   - *Token: completes on PUBACK (QoS 1), PUBCOMP (QoS 2) or immediately (QoS 0)
//   - error: ErrNotConnected, ErrInvalidQoS, ErrInvalidTopic, ErrNoMessageIDs
//     or a persistence error such as persistence.ErrStoreFull
func (s *Session) Publish(topic string, payload []byte, qos byte, retain bool) (*Token, error) {
	if qos > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	tok := newToken()
	err := s.call(func() error {
		connected := s.current() == StateConnected
		l := s.link

		if qos == 0 {
			if !connected {
				return ErrNotConnected
			}
			if !s.send(l, publishPacket(topic, payload, 0, retain, false, 0)) {
				return ErrConnectionLost
			}
			tok.complete(nil)
			return nil
		}

		if !connected && !s.cfg.QueueOffline {
			return ErrNotConnected
		}
		id, err := s.allocateID()
		if err != nil {
			return err
		}
		f := persistence.Flow{
			ClientID:  s.cfg.ClientID,
			MessageID: id,
			Direction: persistence.Outgoing,
			Command:   persistence.CommandPublish,
			Topic:     topic,
			Payload:   payload,
			QoS:       qos,
			Retained:  retain,
		}
		if connected {
			f.RetryCount = 1
		}
		err = s.store.Record(s.ctx, f)
		if err != nil {
			return err
		}
		s.outFlows[id] = topic
		s.pubTokens[id] = tok
		tok.messageID = id

		if connected {
			s.send(l, publishPacket(topic, payload, qos, retain, false, id))
		} else {
			s.log.Debug("publish queued offline", "topic", topic, "message_id", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Subscribe sends a SUBSCRIBE for subs.
func (s *Session) Subscribe(subs []Subscription) (*Token, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrInvalidTopic)
	}
	for _, sub := range subs {
		if sub.QoS > 2 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, sub.QoS)
		}
		if sub.Topic == "" {
			return nil, fmt.Errorf("%w: empty filter", ErrInvalidTopic)
		}
	}

	tok := newToken()
	err := s.call(func() error {
		if s.current() != StateConnected {
			return ErrNotConnected
		}
		id, err := s.allocateID()
		if err != nil {
			return err
		}
		s.subTokens[id] = tok
		tok.messageID = id
		s.send(s.link, subscribePacket(id, subs))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Unsubscribe sends an UNSUBSCRIBE for topics.
func (s *Session) Unsubscribe(topics []string) (*Token, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrInvalidTopic)
	}

	tok := newToken()
	err := s.call(func() error {
		if s.current() != StateConnected {
			return ErrNotConnected
		}
		id, err := s.allocateID()
		if err != nil {
			return err
		}
		s.unsubTokens[id] = tok
		tok.messageID = id
		s.send(s.link, unsubscribePacket(id, topics))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// allocateID returns the next packet identifier not currently in flight.
func (s *Session) allocateID() (uint16, error) {
	for i := 0; i < maxMessageID; i++ {
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		id := s.nextID
		if _, used := s.outFlows[id]; used {
			continue
		}
		if _, used := s.subTokens[id]; used {
			continue
		}
		if _, used := s.unsubTokens[id]; used {
			continue
		}
		return id, nil
	}
	return 0, ErrNoMessageIDs
}

// ============================================================================
// Link: one transport + decoder pair
// ============================================================================

// link adapts transport and decoder callbacks for one connection attempt.
// Callbacks from a detached link are dropped.
type link struct {
	s        *Session
	tr       transport.Transport
	dec      *decoder.Decoder
	detached atomic.Bool
}

func (l *link) HandleOpen() {
	if l.detached.Load() {
		return
	}
	l.s.post(func() { l.s.linkOpened(l) })
}

func (l *link) HandleData(b []byte) {
	if l.detached.Load() {
		return
	}
	l.s.post(func() {
		if l.s.link == l {
			_ = l.dec.Decode(b) //nolint:errcheck // Reported through HandleEvent
		}
	})
}

func (l *link) HandleClosed() {
	if l.detached.Load() {
		return
	}
	l.s.post(func() { l.dec.Close() })
}

func (l *link) HandleError(err error) {
	if l.detached.Load() {
		return
	}
	l.s.post(func() { l.dec.Fail(err) })
}

// HandleFrame runs on the loop goroutine, inside Decode.
func (l *link) HandleFrame(f decoder.Frame) {
	l.s.handleFrame(l, f)
}

// HandleEvent runs on the loop goroutine.
func (l *link) HandleEvent(e decoder.Event, err error) {
	if l.detached.Load() {
		return
	}
	switch e {
	case decoder.EventConnectionClosed:
		l.s.connectionLost(l, ErrConnectionClosed)
	case decoder.EventProtocolError:
		l.s.connectionLost(l, fmt.Errorf("%w: %w", ErrProtocolViolation, err))
	default:
		l.s.connectionLost(l, err)
	}
}

func (s *Session) linkOpened(l *link) {
	if l != s.link {
		return
	}
	l.dec.Open()
	s.send(l, s.connectPacket())
}
