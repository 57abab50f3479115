package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/courier-core/internal/infrastructure/config"
	"github.com/nerrad567/courier-core/internal/session"
	"github.com/nerrad567/courier-core/internal/transport"
)

// Connection constants.
const (
	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectTimeout bounds Close and the cleanup after a failed Connect.
	defaultDisconnectTimeout = 5 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// Status values published on the status topic.
const (
	statusOnline   = "online"
	statusOffline  = "offline"
	reasonShutdown = "graceful_shutdown"
	reasonUnclean  = "unexpected_disconnect"
)

// SessionConfig builds session parameters from the Courier config.
//
// This configures:
//   - Client identity and credentials
//   - Keep-alive, clean session and offline queueing
//   - Last will (offline status on the status topic unless overridden)
//   - The reconnect and idle-check policies
func SessionConfig(cfg config.Config, clientID string) session.Config {
	sc := session.Config{
		ClientID:       clientID,
		Username:       cfg.Auth.Username,
		Password:       cfg.Auth.Password,
		KeepAlive:      cfg.GetKeepAlive(),
		CleanSession:   cfg.Session.CleanSession,
		ConnectTimeout: cfg.GetConnectTimeout(),
		QueueOffline:   cfg.Session.QueueOffline,
		MaxFrameSize:   cfg.Session.MaxFrameSize,
		Reconnect:      cfg.ReconnectPolicy(),
		Idle:           cfg.IdlePolicy(),
	}

	if cfg.Will.Enabled {
		will := &session.Message{
			Topic:    cfg.Will.Topic,
			Payload:  []byte(cfg.Will.Payload),
			QoS:      byte(cfg.Will.QoS), // #nosec G115 -- validated 0-2
			Retained: cfg.Will.Retain,
		}
		if will.Topic == "" {
			will.Topic = StatusTopic(clientID)
		}
		if len(will.Payload) == 0 {
			will.Payload = buildStatusPayload(clientID, statusOffline, reasonUnclean)
		}
		sc.Will = will
	}

	return sc
}

// TransportConfig builds transport settings from the broker config,
// loading CA bundles, client certificates and pins from disk.
func TransportConfig(cfg config.Config) (transport.Config, error) {
	tc := transport.Config{
		URL:            cfg.Broker.URL,
		ConnectTimeout: cfg.GetConnectTimeout(),
		SendQueue:      cfg.Broker.SendQueue,
		ServerName:     cfg.Broker.TLS.ServerName,
	}

	t := cfg.Broker.TLS
	mode, err := transport.ParsePinningMode(t.PinningMode)
	if err != nil {
		return tc, err
	}
	tc.Security = transport.SecurityPolicy{
		Mode:                     mode,
		AllowInvalidCertificates: t.AllowInvalidCertificates,
		ValidatesDomainName:      t.ValidatesDomainName,
	}
	if len(t.PinnedCertificates) > 0 {
		if tc.Security.PinnedCertificates, err = transport.LoadCertificates(t.PinnedCertificates...); err != nil {
			return tc, err
		}
	}
	if t.CAFile != "" {
		if tc.RootCAs, err = transport.LoadCertPool(t.CAFile); err != nil {
			return tc, err
		}
	}
	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return tc, fmt.Errorf("loading client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}

// statusPayload is the JSON body of status messages.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildStatusPayload creates the JSON payload for status messages.
func buildStatusPayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(statusPayload{ //nolint:errcheck // Plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
