// Package api provides the HTTP status API and event stream for Courier.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/courier-core/internal/infrastructure/config"
	"github.com/nerrad567/courier-core/internal/infrastructure/logging"
	"github.com/nerrad567/courier-core/internal/manager"
	"github.com/nerrad567/courier-core/internal/persistence"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Client is the MQTT client the API reports on and publishes through.
// *mqtt.Client satisfies it.
type Client interface {
	ClientID() string
	IsConnected() bool
	State() manager.State
	LastError() error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Client  Client
	Store   persistence.Store
	Version string

	// DefaultQoS is used for POST /publish requests that omit qos.
	DefaultQoS byte
}

// Server is the HTTP API server.
//
// It also implements manager.EventHandler: every session event is counted
// for /status and relayed to WebSocket clients.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	client     Client
	store      persistence.Store
	version    string
	defaultQoS byte
	startTime  time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc

	eventsMu sync.Mutex
	events   map[manager.EventType]uint64
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("flow store is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		client:     deps.Client,
		store:      deps.Store,
		version:    deps.Version,
		defaultQoS: deps.DefaultQoS,
		startTime:  time.Now(),
		hub:        NewHub(deps.Config.WebSocket, deps.Logger),
		events:     make(map[manager.EventType]uint64),
	}, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: nil; listener failures are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// HandleEvent counts a session event and relays it to WebSocket clients
// subscribed to its type.
func (s *Server) HandleEvent(e manager.Event) {
	s.eventsMu.Lock()
	s.events[e.Type]++
	s.eventsMu.Unlock()

	s.hub.Broadcast(string(e.Type), newEventView(e))
}

// eventCounts returns a snapshot of the event counters.
func (s *Server) eventCounts() map[string]uint64 {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := make(map[string]uint64, len(s.events))
	for k, v := range s.events {
		out[string(k)] = v
	}
	return out
}
