package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultSendQueue      = 256
	readBufferSize        = 4096
	tlsMinVersion         = tls.VersionTLS12
)

// Handler receives connection lifecycle callbacks and inbound bytes.
type Handler interface {
	// HandleOpen is called once the connection is ready for Send.
	HandleOpen()

	// HandleData is called with each chunk read from the connection, in order.
	// The slice is owned by the handler.
	HandleData(b []byte)

	// HandleClosed is called when the connection ends cleanly, including
	// when the owner calls Close.
	HandleClosed()

	// HandleError is called when dialing fails or the connection breaks.
	HandleError(err error)
}

// Transport is a single, non-reusable connection to a broker.
type Transport interface {
	// Open starts connecting in the background. The result is reported
	// through h. It returns an error only when the transport cannot start.
	Open(ctx context.Context, h Handler) error

	// Send queues b for writing. It never blocks on the network.
	Send(b []byte) error

	// Close tears the connection down and reports HandleClosed if no
	// terminal callback has been delivered yet.
	Close() error
}

// Config selects and configures a transport variant.
type Config struct {
	// URL is the broker address, e.g. "tcp://broker:1883" or "wss://host/mqtt".
	URL string

	// ConnectTimeout bounds dialing, including TLS and WebSocket handshakes.
	ConnectTimeout time.Duration

	// Security verifies TLS servers. Used by ssl/tls/mqtts and wss.
	Security SecurityPolicy

	// RootCAs overrides the system roots for chain validation.
	RootCAs *x509.CertPool

	// Certificates are presented to the server for mutual TLS.
	Certificates []tls.Certificate

	// ServerName overrides the host name used for SNI and verification.
	ServerName string

	// ALPN lists the application protocols offered during the TLS handshake.
	ALPN []string

	// Header carries extra HTTP headers for the WebSocket handshake.
	Header http.Header

	// SendQueue is the number of outbound writes that may be buffered.
	SendQueue int
}

// New creates a transport for the variant named by cfg.URL's scheme.
func New(cfg Config) (Transport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "tcp", "mqtt":
		return newStream(scheme, cfg, tcpDialer(hostPort(u, "1883"), cfg)), nil
	case "ssl", "tls", "mqtts":
		tlsCfg, err := tlsConfig(u, cfg)
		if err != nil {
			return nil, err
		}
		return newStream(scheme, cfg, tlsDialer(hostPort(u, "8883"), cfg, tlsCfg)), nil
	case "ws", "wss":
		var tlsCfg *tls.Config
		if scheme == "wss" {
			if tlsCfg, err = tlsConfig(u, cfg); err != nil {
				return nil, err
			}
		}
		return newStream(scheme, cfg, wsDialer(u, cfg, tlsCfg)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// NewFactory validates cfg once and returns a constructor that builds a
// fresh transport for every connection attempt.
func NewFactory(cfg Config) (func() (Transport, error), error) {
	if _, err := New(cfg); err != nil {
		return nil, err
	}
	return func() (Transport, error) {
		return New(cfg)
	}, nil
}

func hostPort(u *url.URL, defaultPort string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPort)
}

func tlsConfig(u *url.URL, cfg Config) (*tls.Config, error) {
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = u.Hostname()
	}
	return cfg.Security.TLSConfig(&tls.Config{
		MinVersion:   tlsMinVersion,
		ServerName:   serverName,
		RootCAs:      cfg.RootCAs,
		Certificates: cfg.Certificates,
		NextProtos:   cfg.ALPN,
	})
}

func tcpDialer(addr string, cfg Config) dialFunc {
	return func(ctx context.Context) (conn, error) {
		d := &net.Dialer{Timeout: cfg.ConnectTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}
}

func tlsDialer(addr string, cfg Config, tlsCfg *tls.Config) dialFunc {
	return func(ctx context.Context) (conn, error) {
		d := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: cfg.ConnectTimeout},
			Config:    tlsCfg,
		}
		return d.DialContext(ctx, "tcp", addr)
	}
}
