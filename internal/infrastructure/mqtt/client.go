package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/courier-core/internal/infrastructure/config"
	"github.com/nerrad567/courier-core/internal/manager"
	"github.com/nerrad567/courier-core/internal/persistence"
	"github.com/nerrad567/courier-core/internal/scheduler"
	"github.com/nerrad567/courier-core/internal/session"
	"github.com/nerrad567/courier-core/internal/transport"
)

// Client is the application-facing MQTT client.
//
// It runs a session manager, dispatches received messages to per-filter
// handlers, and keeps a retained online/offline status message on
// courier/<client_id>/status.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored by the manager after every reconnect.
type Client struct {
	mgr      *manager.Manager
	cfg      config.Config
	clientID string
	qos      byte

	// subscriptions maps filters to handlers for local dispatch.
	subscriptions  map[string]subscription
	defaultHandler MessageHandler
	subMu          sync.RWMutex

	// held keeps messages that arrived with no handler; nil when holding
	// is off. heldMu guards the hand-over between dispatch and Subscribe.
	held    persistence.IncomingStore
	heldTTL time.Duration
	heldMu  sync.Mutex
	cleanup scheduler.Timer
	sched   scheduler.Scheduler

	connected bool
	connMu    sync.RWMutex

	// ready receives the outcome of the first connection attempt.
	ready     chan error
	readyOnce sync.Once

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
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

// subscription holds the local side of a subscription.
type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the session's delivery goroutine in arrival order and
// should not block for extended periods.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Deps are optional collaborators. Zero values select in-memory stores,
// the system clock and a transport built from the broker config.
//
// Incoming is used only when persistence.incoming.ttl is set.
type Deps struct {
	Store         persistence.Store
	Subscriptions persistence.SubscriptionStore
	Incoming      persistence.IncomingStore
	Scheduler     scheduler.Scheduler
	NewTransport  func() (transport.Transport, error)
	EventHandlers []manager.EventHandler
	Logger        Logger
}

// Connect starts a session and waits for the first successful connection.
//
// It performs the following setup:
//  1. Builds the session and transport settings from cfg
//  2. Configures the last will (offline status by default)
//  3. Starts the session manager
//  4. Waits for CONNACK, publishing the online status on success
//
// With reconnection enabled a failed first attempt is retried until ctx
// is done; with it disabled the first failure is returned immediately.
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed wrapping the cause
func Connect(ctx context.Context, cfg config.Config, deps Deps) (*Client, error) {
	clientID := cfg.Auth.ClientID
	if clientID == "" {
		clientID = session.GenerateClientID()
	}

	newTransport := deps.NewTransport
	if newTransport == nil {
		tcfg, err := TransportConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		if newTransport, err = transport.NewFactory(tcfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}

	sched := deps.Scheduler
	if sched == nil {
		sched = scheduler.System()
	}

	c := &Client{
		cfg:           cfg,
		clientID:      clientID,
		qos:           byte(cfg.Session.QoS), // #nosec G115 -- validated 0-2
		subscriptions: make(map[string]subscription),
		sched:         sched,
		ready:         make(chan error, 1),
		logger:        noopLogger{},
	}
	if deps.Logger != nil {
		c.logger = deps.Logger
	}
	if ttl := cfg.GetIncomingTTL(); ttl > 0 {
		c.held = deps.Incoming
		if c.held == nil {
			c.held = persistence.NewMemoryIncomingStore()
		}
		c.heldTTL = ttl
	}

	mgr, err := manager.New(manager.Options{
		Session:       SessionConfig(cfg, clientID),
		NewTransport:  newTransport,
		Store:         deps.Store,
		Subscriptions: deps.Subscriptions,
		Scheduler:     sched,
		OnState:       c.handleState,
		OnMessage:     c.dispatch,
		EventHandlers: append(append([]manager.EventHandler(nil), deps.EventHandlers...), manager.EventHandlerFunc(c.handleEvent)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	mgr.SetLogger(c.logger)
	c.mgr = mgr

	if err := mgr.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	select {
	case err = <-c.ready:
	case <-ctx.Done():
		err = ctx.Err()
		if last := mgr.LastError(); last != nil {
			err = fmt.Errorf("%w (last error: %w)", err, last)
		}
	}
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), defaultDisconnectTimeout)
		defer cancel()
		mgr.Stop(stopCtx) //nolint:errcheck // Already failing
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if every := cfg.GetIncomingCleanupInterval(); c.held != nil && every > 0 {
		c.cleanup = sched.Every(every, c.purgeExpired)
	}
	return c, nil
}

// handleState follows manager state changes.
func (c *Client) handleState(s manager.State) {
	switch s {
	case manager.StateConnected:
		c.handleConnect()
	case manager.StateError:
		err := c.mgr.LastError()
		if !c.cfg.Reconnect.Enabled {
			c.signalReady(err)
		}
		c.handleDisconnect(err)
	case manager.StateClosing, manager.StateClosed:
		c.handleDisconnect(nil)
	}
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.publishStatus(statusOnline, "")
	c.signalReady(nil)

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost or closed.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	was := c.connected
	c.connected = false
	c.connMu.Unlock()
	if !was {
		return
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) signalReady(err error) {
	c.readyOnce.Do(func() {
		c.ready <- err
	})
}

// handleEvent logs subscription failures, which otherwise surface only
// in the event stream.
func (c *Client) handleEvent(e manager.Event) {
	switch e.Type {
	case manager.EventSubscribeFailure:
		c.getLogger().Warn("MQTT subscription failed", "topic", e.Topic, "error", e.Err)
	case manager.EventUnsubscribeFailure:
		c.getLogger().Warn("MQTT unsubscribe failed", "topic", e.Topic, "error", e.Err)
	}
}

// publishStatus sends a retained status message without waiting for the
// acknowledgement.
func (c *Client) publishStatus(status, reason string) {
	payload := buildStatusPayload(c.clientID, status, reason)
	if _, err := c.mgr.Publish(StatusTopic(c.clientID), payload, c.qos, true); err != nil {
		c.getLogger().Warn("publishing status failed", "status", status, "error", err)
	}
}

// Close publishes a graceful offline status and stops the session.
//
// Returns:
//   - error: If the session does not shut down within the disconnect timeout
func (c *Client) Close() error {
	if c.cleanup != nil {
		c.cleanup.Stop()
	}

	if c.IsConnected() {
		payload := buildStatusPayload(c.clientID, statusOffline, reasonShutdown)
		if tok, err := c.mgr.Publish(StatusTopic(c.clientID), payload, c.qos, true); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
			tok.Wait(ctx) //nolint:errcheck // Best effort before disconnect
			cancel()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDisconnectTimeout)
	defer cancel()
	if err := c.mgr.Stop(ctx); err != nil {
		return fmt.Errorf("mqtt close: %w", err)
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		if err := c.mgr.LastError(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.mgr.IsConnected()
}

// ClientID returns the MQTT client identifier in use.
func (c *Client) ClientID() string {
	return c.clientID
}

// State returns the session manager state.
func (c *Client) State() manager.State {
	return c.mgr.State()
}

// LastError returns the cause of the most recent connection failure.
func (c *Client) LastError() error {
	return c.mgr.LastError()
}

// Manager exposes the underlying session manager for status reporting
// and network change notifications.
func (c *Client) Manager() *manager.Manager {
	return c.mgr
}

// SetOnConnect sets a callback invoked on every successful connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost or
// closed. err is nil for a requested shutdown.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for the client and its session manager.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.mgr.SetLogger(logger)
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// dispatch delivers a received message to every handler whose filter
// matches, or to the default handler if none does. With neither, a QoS 1
// or 2 message is held when holding is on.
func (c *Client) dispatch(msg session.Message) {
	handlers, held := c.route(msg)
	if held {
		return
	}
	if len(handlers) == 0 {
		c.getLogger().Debug("MQTT message without handler", "topic", msg.Topic)
		return
	}
	for _, h := range handlers {
		c.invoke(h, msg)
	}
}

// route picks the handlers for msg and holds it when there are none.
// The check and the save happen under heldMu so a concurrent Subscribe
// either gets the message live or finds it held.
func (c *Client) route(msg session.Message) (handlers []MessageHandler, held bool) {
	if c.held != nil {
		c.heldMu.Lock()
		defer c.heldMu.Unlock()
	}

	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		if TopicMatch(sub.filter, msg.Topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	if len(handlers) == 0 && c.defaultHandler != nil {
		handlers = append(handlers, c.defaultHandler)
	}
	c.subMu.RUnlock()

	if len(handlers) == 0 {
		return nil, c.hold(msg)
	}
	return handlers, false
}

// invoke runs a handler with panic recovery.
func (c *Client) invoke(handler MessageHandler, msg session.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("MQTT handler panic recovered",
				"topic", msg.Topic,
				"panic", r,
			)
		}
	}()

	if err := handler(msg.Topic, msg.Payload); err != nil {
		c.getLogger().Warn("MQTT handler returned error",
			"topic", msg.Topic,
			"error", err,
		)
	}
}

// isOffline reports whether err means the message could not be sent now.
func isOffline(err error) bool {
	return errors.Is(err, session.ErrNotConnected) || errors.Is(err, manager.ErrNotStarted)
}
