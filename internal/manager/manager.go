package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/courier-core/internal/persistence"
	"github.com/nerrad567/courier-core/internal/scheduler"
	"github.com/nerrad567/courier-core/internal/session"
	"github.com/nerrad567/courier-core/internal/transport"
)

// subackFailure is the SUBACK return code for a rejected filter.
const subackFailure = 0x80

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateHandler is called after every state change.
type StateHandler func(State)

// MessageHandler is called for every message received from the broker.
type MessageHandler func(session.Message)

// Options configures a Manager.
type Options struct {
	// Session holds the MQTT session parameters. An empty ClientID is
	// generated once and kept across Start/Stop cycles.
	Session session.Config

	// NewTransport builds a transport for each connection attempt.
	NewTransport func() (transport.Transport, error)

	// Store holds in-flight flows. Defaults to an unlimited memory store.
	Store persistence.Store

	// Subscriptions remembers filters across reconnects. Defaults to a
	// memory store.
	Subscriptions persistence.SubscriptionStore

	// Scheduler provides timers and event timestamps. Defaults to
	// scheduler.System().
	Scheduler scheduler.Scheduler

	// OnState and OnMessage are optional callbacks.
	OnState   StateHandler
	OnMessage MessageHandler

	// EventHandlers receive every Event.
	EventHandlers []EventHandler
}

// Manager runs one session at a time and restores its subscriptions after
// every connect.
type Manager struct {
	opts     Options
	clientID string
	logger   Logger

	mu            sync.RWMutex
	sess          *session.Session
	gen           uint64
	state         State
	lastError     error
	stopRequested bool
	networkUp     bool
	handlers      []EventHandler

	// emitMu serialises EventHandler calls from the session dispatcher
	// and token watchers.
	emitMu sync.Mutex
}

// New creates a Manager in the Closed state.
func New(opts Options) (*Manager, error) {
	if opts.NewTransport == nil {
		return nil, errors.New("manager: NewTransport is required")
	}
	if opts.Session.ClientID == "" {
		opts.Session.ClientID = session.GenerateClientID()
	}
	if opts.Store == nil {
		opts.Store = persistence.NewMemoryStore(persistence.Limits{})
	}
	if opts.Subscriptions == nil {
		opts.Subscriptions = persistence.NewMemorySubscriptionStore()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.System()
	}

	return &Manager{
		opts:      opts,
		clientID:  opts.Session.ClientID,
		logger:    noopLogger{},
		state:     StateClosed,
		networkUp: true,
		handlers:  append([]EventHandler(nil), opts.EventHandlers...),
	}, nil
}

// SetLogger sets the logger for the manager and its sessions.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// AddEventHandler registers h for every subsequent event.
func (m *Manager) AddEventHandler(h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// ClientID returns the client identifier used for every session.
func (m *Manager) ClientID() string {
	return m.clientID
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the error that last moved the manager to Error, or nil.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// IsConnected reports whether the session is connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Store returns the flow store shared by every session.
func (m *Manager) Store() persistence.Store {
	return m.opts.Store
}

// Subscriptions returns the subscription store.
func (m *Manager) Subscriptions() persistence.SubscriptionStore {
	return m.opts.Subscriptions
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start creates a session and begins connecting. Progress is reported
// through OnState and the event stream.
//
// Returns:
//   - error: ErrAlreadyStarted if running, or the error that prevented the
//     first connection attempt from starting
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.state.Running() {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.gen++
	gen := m.gen
	sess, err := session.New(m.opts.Session, session.Deps{
		NewTransport: m.opts.NewTransport,
		Store:        m.opts.Store,
		Scheduler:    m.opts.Scheduler,
		Handler:      &sessionHandler{m: m, gen: gen},
		Logger:       m.logger,
	})
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("creating session: %w", err)
	}
	m.sess = sess
	m.stopRequested = false
	m.lastError = nil
	changed := m.transitionLocked(StateStarting)
	m.mu.Unlock()
	m.notifyState(changed)

	m.logger.Info("starting session manager", "client_id", m.clientID)
	if err := sess.Connect(); err != nil {
		m.mu.Lock()
		m.lastError = err
		changed := m.transitionLocked(StateError)
		m.mu.Unlock()
		m.notifyState(changed)
		m.emit(Event{Type: EventConnectionFailure, Err: err})
		return err
	}
	return nil
}

// Stop disconnects and closes the session. It waits until the session has
// shut down or ctx is done. Stop must not be called from a callback.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.Running() {
		m.mu.Unlock()
		return nil
	}
	sess := m.sess
	m.stopRequested = true
	changed := m.transitionLocked(StateClosing)
	m.mu.Unlock()
	m.notifyState(changed)

	m.logger.Info("stopping session manager", "client_id", m.clientID)
	done := make(chan struct{})
	go func() {
		sess.Close() //nolint:errcheck // Close always returns nil
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stopping session: %w", ctx.Err())
	}

	m.mu.Lock()
	m.sess = nil
	changed = m.transitionLocked(StateClosed)
	m.mu.Unlock()
	m.notifyState(changed)
	return nil
}

// NetworkChanged tells the manager whether the host has network access.
// When it comes back while the manager is in Error, a reconnect is
// attempted immediately instead of waiting for the backoff.
func (m *Manager) NetworkChanged(available bool) {
	m.mu.Lock()
	was := m.networkUp
	m.networkUp = available
	state := m.state
	sess := m.sess
	m.mu.Unlock()

	if was == available {
		return
	}
	m.logger.Info("network reachability changed", "available", available, "state", state)
	if !available || state != StateError || sess == nil {
		return
	}
	if err := sess.Reconnect(); err != nil {
		m.logger.Warn("forced reconnect failed", "error", err)
	}
}

// transitionLocked moves to the given state if the table allows it.
// It returns the new state, or "" if nothing changed.
func (m *Manager) transitionLocked(to State) State {
	if m.state == to {
		return ""
	}
	if !CanTransition(m.state, to) {
		m.logger.Warn("ignoring state change", "error", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to))
		return ""
	}
	m.logger.Debug("manager state changed", "from", m.state, "to", to)
	m.state = to
	return to
}

func (m *Manager) notifyState(s State) {
	if s == "" || m.opts.OnState == nil {
		return
	}
	m.opts.OnState(s)
}

func (m *Manager) emit(e Event) {
	if e.At.IsZero() {
		e.At = m.opts.Scheduler.Now()
	}
	m.mu.RLock()
	handlers := m.handlers
	m.mu.RUnlock()

	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	for _, h := range handlers {
		h.HandleEvent(e)
	}
}

func (m *Manager) current() *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess
}

// ============================================================================
// Operations
// ============================================================================

// Publish sends a message through the current session.
//
// Returns:
//   - *session.Token: completes when the broker acknowledges the message
//   - error: ErrNotStarted, or any session.Publish error
func (m *Manager) Publish(topic string, payload []byte, qos byte, retain bool) (*session.Token, error) {
	sess := m.current()
	if sess == nil {
		return nil, ErrNotStarted
	}
	tok, err := sess.Publish(topic, payload, qos, retain)
	if err != nil {
		m.emit(Event{Type: EventMessageSendFailure, Topic: topic, QoS: qos, Size: len(payload), Err: err})
		return nil, err
	}
	m.emit(Event{Type: EventMessageSend, Topic: topic, QoS: qos, Size: len(payload)})
	return tok, nil
}

// Subscribe stores subs and sends a SUBSCRIBE if connected. Stored
// filters are re-subscribed after every connect, so calling Subscribe
// while offline is fine.
func (m *Manager) Subscribe(ctx context.Context, subs ...session.Subscription) error {
	if len(subs) == 0 {
		return fmt.Errorf("%w: no topics", session.ErrInvalidTopic)
	}
	stored := make([]persistence.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.Topic == "" {
			return fmt.Errorf("%w: empty filter", session.ErrInvalidTopic)
		}
		if s.QoS > 2 {
			return fmt.Errorf("%w: %d", session.ErrInvalidQoS, s.QoS)
		}
		stored = append(stored, persistence.Subscription{Topic: s.Topic, QoS: s.QoS})
	}
	if err := m.opts.Subscriptions.Subscribe(ctx, m.clientID, stored...); err != nil {
		return fmt.Errorf("storing subscriptions: %w", err)
	}

	if sess := m.current(); sess != nil && m.IsConnected() {
		m.sendSubscribe(sess, subs)
	}
	return nil
}

// Unsubscribe marks topics for removal and sends an UNSUBSCRIBE if
// connected. Unacknowledged unsubscribes are resent after every connect.
func (m *Manager) Unsubscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return fmt.Errorf("%w: no topics", session.ErrInvalidTopic)
	}
	if err := m.opts.Subscriptions.Unsubscribe(ctx, m.clientID, topics...); err != nil {
		return fmt.Errorf("storing unsubscribe: %w", err)
	}

	if sess := m.current(); sess != nil && m.IsConnected() {
		m.sendUnsubscribe(sess, topics)
	}
	return nil
}

func (m *Manager) sendSubscribe(sess *session.Session, subs []session.Subscription) {
	tok, err := sess.Subscribe(subs)
	if err != nil {
		if !errors.Is(err, session.ErrNotConnected) {
			m.subscribeFailed(subs, err)
		}
		return
	}
	go func() {
		<-tok.Done()
		if err := tok.Err(); err != nil {
			m.subscribeFailed(subs, err)
			return
		}
		granted := tok.Granted()
		for i, s := range subs {
			if i < len(granted) && granted[i] == subackFailure {
				m.logger.Warn("subscription rejected", "topic", s.Topic)
				m.emit(Event{Type: EventSubscribeFailure, Topic: s.Topic, QoS: s.QoS, Err: ErrSubscriptionRejected})
				continue
			}
			qos := s.QoS
			if i < len(granted) {
				qos = granted[i]
			}
			m.emit(Event{Type: EventSubscribeSuccess, Topic: s.Topic, QoS: qos})
		}
	}()
}

func (m *Manager) subscribeFailed(subs []session.Subscription, err error) {
	m.logger.Warn("subscribe failed", "topics", len(subs), "error", err)
	for _, s := range subs {
		m.emit(Event{Type: EventSubscribeFailure, Topic: s.Topic, QoS: s.QoS, Err: err})
	}
}

func (m *Manager) sendUnsubscribe(sess *session.Session, topics []string) {
	fail := func(err error) {
		m.logger.Warn("unsubscribe failed", "topics", len(topics), "error", err)
		for _, t := range topics {
			m.emit(Event{Type: EventUnsubscribeFailure, Topic: t, Err: err})
		}
	}

	tok, err := sess.Unsubscribe(topics)
	if err != nil {
		if !errors.Is(err, session.ErrNotConnected) {
			fail(err)
		}
		return
	}
	go func() {
		<-tok.Done()
		if err := tok.Err(); err != nil {
			fail(err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.opts.Subscriptions.UnsubscribeAcked(ctx, m.clientID, topics...); err != nil {
			m.logger.Error("removing acknowledged unsubscribe failed", "error", err)
		}
		for _, t := range topics {
			m.emit(Event{Type: EventUnsubscribeSuccess, Topic: t})
		}
	}()
}

// restore re-subscribes stored filters and resends pending unsubscribes.
func (m *Manager) restore(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stored, err := m.opts.Subscriptions.Subscriptions(ctx, m.clientID)
	if err != nil {
		m.logger.Error("loading subscriptions failed", "error", err)
	} else if len(stored) > 0 {
		subs := make([]session.Subscription, len(stored))
		for i, s := range stored {
			subs[i] = session.Subscription{Topic: s.Topic, QoS: s.QoS}
		}
		m.logger.Debug("restoring subscriptions", "count", len(subs))
		m.sendSubscribe(sess, subs)
	}

	pending, err := m.opts.Subscriptions.PendingUnsubscribes(ctx, m.clientID)
	if err != nil {
		m.logger.Error("loading pending unsubscribes failed", "error", err)
	} else if len(pending) > 0 {
		m.logger.Debug("resending unsubscribes", "count", len(pending))
		m.sendUnsubscribe(sess, pending)
	}
}

// ============================================================================
// Session events
// ============================================================================

// sessionHandler forwards one session's events. Events from a session
// replaced by a later Start are dropped.
type sessionHandler struct {
	m   *Manager
	gen uint64
}

func (h *sessionHandler) live() (*session.Session, bool) {
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	return h.m.sess, h.m.gen == h.gen && h.m.sess != nil
}

func (h *sessionHandler) ConnectionStateChanged(st session.State, err error) {
	m := h.m
	m.mu.Lock()
	if m.gen != h.gen {
		m.mu.Unlock()
		return
	}
	prev := m.state
	var next State
	switch st {
	case session.StateConnecting:
		next = StateConnecting
	case session.StateConnected:
		next = StateConnected
	case session.StateDisconnecting:
		next = StateClosing
	case session.StateDisconnected:
		if m.stopRequested {
			next = StateClosed
		} else {
			next = StateError
			m.lastError = err
		}
	}
	if m.stopRequested && next != StateClosed && next != StateClosing {
		next = ""
	}
	changed := State("")
	if next != "" {
		changed = m.transitionLocked(next)
	}
	m.mu.Unlock()
	m.notifyState(changed)

	switch st {
	case session.StateConnecting:
		if prev == StateError {
			m.emit(Event{Type: EventReconnect})
		}
		m.emit(Event{Type: EventConnectionAttempt})
	case session.StateConnected:
		m.logger.Info("session connected", "client_id", m.clientID)
		m.emit(Event{Type: EventConnectionSuccess})
		if sess, ok := h.live(); ok {
			m.restore(sess)
		}
	case session.StateDisconnected:
		switch {
		case err == nil:
			m.emit(Event{Type: EventDisconnect})
		case prev == StateConnected:
			m.logger.Warn("session connection lost", "error", err)
			m.emit(Event{Type: EventConnectionLost, Err: err})
		default:
			m.logger.Warn("session connection failed", "error", err)
			m.emit(Event{Type: EventConnectionFailure, Err: err})
		}
	}
}

func (h *sessionHandler) MessageReceived(msg session.Message) {
	if _, ok := h.live(); !ok {
		return
	}
	h.m.emit(Event{Type: EventMessageReceive, Topic: msg.Topic, QoS: msg.QoS, Size: len(msg.Payload)})
	if h.m.opts.OnMessage != nil {
		h.m.opts.OnMessage(msg)
	}
}

func (h *sessionHandler) PublishAcknowledged(_ uint16, topic string) {
	if _, ok := h.live(); !ok {
		return
	}
	h.m.emit(Event{Type: EventPublishAcked, Topic: topic})
}
