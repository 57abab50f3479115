package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/courier-core/internal/persistence"
	"github.com/nerrad567/courier-core/internal/reconnect"
	"github.com/nerrad567/courier-core/internal/scheduler"
	"github.com/nerrad567/courier-core/internal/transport"
)

// State is the connection state of a Session.
type State int32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Message is an application message.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// Subscription is one topic filter in a SUBSCRIBE request.
type Subscription struct {
	Topic string
	QoS   byte
}

// Handler receives session events. Calls are made in order from a single
// goroutine that is not the session loop.
type Handler interface {
	// ConnectionStateChanged reports every state transition. err explains
	// why the session left Connecting or Connected, and is nil for
	// caller-initiated transitions.
	ConnectionStateChanged(state State, err error)

	// MessageReceived delivers an application message from the broker.
	MessageReceived(msg Message)

	// PublishAcknowledged reports that an outgoing QoS 1/2 flow completed.
	PublishAcknowledged(messageID uint16, topic string)
}

// Logger defines the logging interface for the session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopHandler struct{}

func (noopHandler) ConnectionStateChanged(State, error) {}
func (noopHandler) MessageReceived(Message)             {}
func (noopHandler) PublishAcknowledged(uint16, string)  {}

// Default session settings.
const (
	DefaultKeepAlive      = 60 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	clientIDPrefix        = "courier-"
)

// GenerateClientID returns a random client identifier of the form
// "courier-<uuid>".
func GenerateClientID() string {
	return clientIDPrefix + uuid.NewString()
}

// Config holds the MQTT session parameters.
type Config struct {
	// ClientID identifies the session at the broker. Empty means a
	// generated "courier-<uuid>".
	ClientID string

	Username string
	Password string

	// KeepAlive is the PINGREQ interval. Zero disables keep-alive.
	KeepAlive time.Duration

	// CleanSession asks the broker to discard any previous session state.
	CleanSession bool

	// Will is published by the broker if the connection drops uncleanly.
	Will *Message

	// ConnectTimeout bounds the wait for CONNACK after dialing starts.
	ConnectTimeout time.Duration

	// QueueOffline records QoS 1/2 publishes made while disconnected so
	// they are sent after the next connect.
	QueueOffline bool

	// MaxFrameSize rejects larger inbound packets. Zero means no limit.
	MaxFrameSize int

	// Reconnect controls automatic reconnection.
	Reconnect reconnect.Policy

	// Idle drops connections that stop delivering data.
	Idle IdlePolicy
}

// IdlePolicy checks inbound activity independently of keep-alive.
//
// Every Interval the session looks at the last packet read and the last
// packet written. When nothing has been read for ReadTimeout the
// connection is dropped with ErrReadTimeout. When both directions have
// been quiet for InactivityTimeout a PINGREQ is sent to provoke a reply.
// A zero timeout disables that check.
type IdlePolicy struct {
	Enabled           bool
	Interval          time.Duration
	InactivityTimeout time.Duration
	ReadTimeout       time.Duration
}

// DefaultIdlePolicy returns a disabled policy checking every 12s, pinging
// after 10s of silence and dropping after 40s without a read.
func DefaultIdlePolicy() IdlePolicy {
	return IdlePolicy{
		Interval:          12 * time.Second,
		InactivityTimeout: 10 * time.Second,
		ReadTimeout:       40 * time.Second,
	}
}

// DefaultConfig returns keep-alive 60s, connect timeout 30s, offline
// queueing on, the default reconnect policy and the idle check off.
func DefaultConfig() Config {
	return Config{
		KeepAlive:      DefaultKeepAlive,
		ConnectTimeout: DefaultConnectTimeout,
		QueueOffline:   true,
		Reconnect:      reconnect.DefaultPolicy(),
		Idle:           DefaultIdlePolicy(),
	}
}

// Deps are the collaborators a Session needs.
type Deps struct {
	// NewTransport builds a fresh transport for each connection attempt.
	NewTransport func() (transport.Transport, error)

	// Store holds in-flight flows. Defaults to an unlimited MemoryStore.
	Store persistence.Store

	// Scheduler provides timers. Defaults to scheduler.System().
	Scheduler scheduler.Scheduler

	// Handler receives events. Optional.
	Handler Handler

	// Logger receives diagnostics. Optional.
	Logger Logger
}

// Token tracks the completion of an asynchronous operation.
type Token struct {
	done      chan struct{}
	once      sync.Once
	err       error
	messageID uint16
	granted   []byte
}

func newToken() *Token {
	return &Token{done: make(chan struct{})}
}

func (t *Token) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed when the operation completes.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the operation completes or ctx is done.
func (t *Token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the completion error. It is nil until Done is closed.
func (t *Token) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// MessageID returns the packet identifier assigned to the operation,
// or 0 for QoS 0 publishes.
func (t *Token) MessageID() uint16 {
	return t.messageID
}

// Granted returns the SUBACK return codes, one per requested filter.
// 0x80 marks a rejected filter. Valid once Done is closed.
func (t *Token) Granted() []byte {
	select {
	case <-t.done:
		return t.granted
	default:
		return nil
	}
}
