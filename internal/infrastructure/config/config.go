package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/courier-core/internal/reconnect"
	"github.com/nerrad567/courier-core/internal/session"
)

// Config is the root configuration structure for Courier.
// All configuration is loaded from YAML or TOML and can be overridden by
// environment variables.
type Config struct {
	Broker        BrokerConfig         `yaml:"broker" toml:"broker"`
	Auth          AuthConfig           `yaml:"auth" toml:"auth"`
	Will          WillConfig           `yaml:"will" toml:"will"`
	Session       SessionConfig        `yaml:"session" toml:"session"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions" toml:"subscriptions"`
	Reconnect     ReconnectConfig      `yaml:"reconnect" toml:"reconnect"`
	Persistence   PersistenceConfig    `yaml:"persistence" toml:"persistence"`
	Telemetry     TelemetryConfig      `yaml:"telemetry" toml:"telemetry"`
	API           APIConfig            `yaml:"api" toml:"api"`
	Network       NetworkConfig        `yaml:"network" toml:"network"`
	Logging       LoggingConfig        `yaml:"logging" toml:"logging"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	// URL selects the transport: tcp://, ssl://, ws:// or wss://.
	URL string `yaml:"url" toml:"url"`

	// ConnectTimeout bounds dialing and the CONNACK wait (seconds).
	ConnectTimeout int `yaml:"connect_timeout" toml:"connect_timeout"`

	// SendQueue is the number of packets buffered for writing.
	SendQueue int `yaml:"send_queue" toml:"send_queue"`

	TLS TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig contains the broker trust policy.
type TLSConfig struct {
	CAFile     string `yaml:"ca_file" toml:"ca_file"`
	CertFile   string `yaml:"cert_file" toml:"cert_file"`
	KeyFile    string `yaml:"key_file" toml:"key_file"`
	ServerName string `yaml:"server_name" toml:"server_name"`

	// PinningMode is none, certificate or public_key.
	PinningMode        string   `yaml:"pinning_mode" toml:"pinning_mode"`
	PinnedCertificates []string `yaml:"pinned_certificates" toml:"pinned_certificates"`

	AllowInvalidCertificates bool `yaml:"allow_invalid_certificates" toml:"allow_invalid_certificates"`
	ValidatesDomainName      bool `yaml:"validates_domain_name" toml:"validates_domain_name"`
}

// AuthConfig contains the client identity.
type AuthConfig struct {
	ClientID string `yaml:"client_id" toml:"client_id"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// WillConfig describes the last-will message. When Topic is empty an
// offline status message is used.
type WillConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Topic   string `yaml:"topic" toml:"topic"`
	Payload string `yaml:"payload" toml:"payload"`
	QoS     int    `yaml:"qos" toml:"qos"`
	Retain  bool   `yaml:"retain" toml:"retain"`
}

// SessionConfig contains MQTT session parameters.
type SessionConfig struct {
	// KeepAlive is the PINGREQ interval (seconds). 0 disables keep-alive.
	KeepAlive    int  `yaml:"keep_alive" toml:"keep_alive"`
	CleanSession bool `yaml:"clean_session" toml:"clean_session"`
	QueueOffline bool `yaml:"queue_offline" toml:"queue_offline"`
	MaxFrameSize int  `yaml:"max_frame_size" toml:"max_frame_size"`

	// QoS is the default QoS for publishes made by the CLI and API.
	QoS int `yaml:"qos" toml:"qos"`

	Idle IdleConfig `yaml:"idle" toml:"idle"`
}

// IdleConfig drops connections that stop delivering data. Times are in
// seconds.
type IdleConfig struct {
	Enabled           bool `yaml:"enabled" toml:"enabled"`
	Interval          int  `yaml:"interval" toml:"interval"`
	InactivityTimeout int  `yaml:"inactivity_timeout" toml:"inactivity_timeout"`
	ReadTimeout       int  `yaml:"read_timeout" toml:"read_timeout"`
}

// SubscriptionConfig is a topic filter subscribed at startup.
type SubscriptionConfig struct {
	Topic string `yaml:"topic" toml:"topic"`
	QoS   int    `yaml:"qos" toml:"qos"`
}

// ReconnectConfig contains reconnection settings. Delays are in
// milliseconds.
type ReconnectConfig struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled"`
	InitialDelay int     `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int     `yaml:"max_delay" toml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier" toml:"multiplier"`
	Jitter       float64 `yaml:"jitter" toml:"jitter"`
	MaxAttempts  int     `yaml:"max_attempts" toml:"max_attempts"`
}

// PersistenceConfig selects the flow store.
type PersistenceConfig struct {
	// Backend is "memory" or "sqlite".
	Backend     string `yaml:"backend" toml:"backend"`
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`

	// MaxMessages and MaxSize limit stored flows per client. 0 means unlimited.
	MaxMessages int   `yaml:"max_messages" toml:"max_messages"`
	MaxSize     int64 `yaml:"max_size" toml:"max_size"`

	Incoming IncomingConfig `yaml:"incoming" toml:"incoming"`
}

// IncomingConfig controls holding QoS 1 and 2 messages that arrive for a
// topic with no handler, until a handler subscribes.
type IncomingConfig struct {
	// TTL is how long a held message is kept (seconds). 0 disables holding.
	TTL int `yaml:"ttl" toml:"ttl"`

	// CleanupInterval is how often expired messages are purged (seconds).
	CleanupInterval int `yaml:"cleanup_interval" toml:"cleanup_interval"`
}

// TelemetryConfig contains InfluxDB connection settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" toml:"enabled"`
	Host     string           `yaml:"host" toml:"host"`
	Port     int              `yaml:"port" toml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts" toml:"timeouts"`
	JWT       JWTConfig        `yaml:"jwt" toml:"jwt"`
	WebSocket WebSocketConfig  `yaml:"websocket" toml:"websocket"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size" toml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval" toml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout" toml:"pong_timeout"`   // seconds
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read" toml:"read"`
	Write int `yaml:"write" toml:"write"`
	Idle  int `yaml:"idle" toml:"idle"`
}

// JWTConfig contains the bearer token settings for POST endpoints.
type JWTConfig struct {
	Secret string `yaml:"secret" toml:"secret"`
	Issuer string `yaml:"issuer" toml:"issuer"`
}

// NetworkConfig controls host reachability polling.
type NetworkConfig struct {
	Watch    bool `yaml:"watch" toml:"watch"`
	Interval int  `yaml:"interval" toml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// Load reads configuration from a file and applies environment overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values, YAML or TOML by extension (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: COURIER_SECTION_KEY
// For example: COURIER_BROKER_URL, COURIER_AUTH_PASSWORD
//
// Parameters:
//   - path: Path to a .yaml, .yml or .toml file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

// Default returns a Config with sensible defaults: a local plain-TCP broker,
// an in-memory flow store and the API disabled.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:            "tcp://localhost:1883",
			ConnectTimeout: 30,
			SendQueue:      256,
			TLS: TLSConfig{
				PinningMode:         "none",
				ValidatesDomainName: true,
			},
		},
		Will: WillConfig{
			Enabled: true,
			QoS:     1,
			Retain:  true,
		},
		Session: SessionConfig{
			KeepAlive:    60,
			QueueOffline: true,
			QoS:          1,
			Idle: IdleConfig{
				Interval:          12,
				InactivityTimeout: 10,
				ReadTimeout:       40,
			},
		},
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: 1000,
			MaxDelay:     60000,
			Multiplier:   2,
		},
		Persistence: PersistenceConfig{
			Backend:     "memory",
			Path:        "./data/courier.db",
			WALMode:     true,
			BusyTimeout: 5,
			Incoming: IncomingConfig{
				CleanupInterval: 10,
			},
		},
		Telemetry: TelemetryConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8089,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			JWT: JWTConfig{Issuer: "courier"},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Network: NetworkConfig{
			Watch:    true,
			Interval: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: COURIER_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"COURIER_BROKER_URL":        &cfg.Broker.URL,
		"COURIER_AUTH_CLIENT_ID":    &cfg.Auth.ClientID,
		"COURIER_AUTH_USERNAME":     &cfg.Auth.Username,
		"COURIER_AUTH_PASSWORD":     &cfg.Auth.Password,
		"COURIER_PERSISTENCE_PATH":  &cfg.Persistence.Path,
		"COURIER_TELEMETRY_TOKEN":   &cfg.Telemetry.Token,
		"COURIER_API_JWT_SECRET":    &cfg.API.JWT.Secret,
		"COURIER_LOGGING_LEVEL":     &cfg.Logging.Level,
		"COURIER_PERSISTENCE_STORE": &cfg.Persistence.Backend,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("COURIER_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COURIER_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("COURIER_API_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COURIER_API_ENABLED: %w", err)
		}
		cfg.API.Enabled = enabled
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.URL == "" {
		errs = append(errs, "broker.url is required")
	}
	if c.Broker.ConnectTimeout < 0 {
		errs = append(errs, "broker.connect_timeout must not be negative")
	}
	switch strings.ToLower(c.Broker.TLS.PinningMode) {
	case "", "none", "certificate", "public_key":
	default:
		errs = append(errs, "broker.tls.pinning_mode must be none, certificate or public_key")
	}

	if c.Session.QoS < 0 || c.Session.QoS > 2 {
		errs = append(errs, "session.qos must be 0, 1, or 2")
	}
	if c.Session.KeepAlive < 0 || c.Session.KeepAlive > 65535 {
		errs = append(errs, "session.keep_alive must be between 0 and 65535")
	}
	if idle := c.Session.Idle; idle.Interval < 0 || idle.InactivityTimeout < 0 || idle.ReadTimeout < 0 {
		errs = append(errs, "session.idle times must not be negative")
	} else if idle.Enabled && idle.Interval == 0 {
		errs = append(errs, "session.idle.interval is required when the idle check is enabled")
	}
	if c.Will.QoS < 0 || c.Will.QoS > 2 {
		errs = append(errs, "will.qos must be 0, 1, or 2")
	}
	for i, s := range c.Subscriptions {
		if s.Topic == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].topic is required", i))
		}
		if s.QoS < 0 || s.QoS > 2 {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	if err := c.ReconnectPolicy().Validate(); err != nil {
		errs = append(errs, "reconnect: "+err.Error())
	}

	switch c.Persistence.Backend {
	case "memory":
	case "sqlite":
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for the sqlite backend")
		}
	default:
		errs = append(errs, "persistence.backend must be memory or sqlite")
	}
	if c.Persistence.Incoming.TTL < 0 || c.Persistence.Incoming.CleanupInterval < 0 {
		errs = append(errs, "persistence.incoming times must not be negative")
	} else if c.Persistence.Incoming.TTL > 0 && c.Persistence.Incoming.CleanupInterval == 0 {
		errs = append(errs, "persistence.incoming.cleanup_interval is required when ttl is set")
	}

	if c.Telemetry.Enabled && (c.Telemetry.URL == "" || c.Telemetry.Bucket == "") {
		errs = append(errs, "telemetry.url and telemetry.bucket are required when telemetry is enabled")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		// The secret signs tokens that allow publishing on the broker.
		const minJWTSecretLength = 32
		if c.API.JWT.Secret == "" {
			errs = append(errs, "api.jwt.secret is required (set COURIER_API_JWT_SECRET environment variable)")
		} else if len(c.API.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "api.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectPolicy converts the reconnect section to a reconnect.Policy.
func (c *Config) ReconnectPolicy() reconnect.Policy {
	r := c.Reconnect
	return reconnect.Policy{
		Enabled:      r.Enabled,
		InitialDelay: time.Duration(r.InitialDelay) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelay) * time.Millisecond,
		Multiplier:   r.Multiplier,
		Jitter:       r.Jitter,
		MaxAttempts:  r.MaxAttempts,
	}
}

// GetConnectTimeout returns the broker connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeout) * time.Second
}

// GetKeepAlive returns the session keep-alive as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAlive) * time.Second
}

// IdlePolicy converts session.idle to a session.IdlePolicy.
func (c *Config) IdlePolicy() session.IdlePolicy {
	idle := c.Session.Idle
	return session.IdlePolicy{
		Enabled:           idle.Enabled,
		Interval:          time.Duration(idle.Interval) * time.Second,
		InactivityTimeout: time.Duration(idle.InactivityTimeout) * time.Second,
		ReadTimeout:       time.Duration(idle.ReadTimeout) * time.Second,
	}
}

// GetIncomingTTL returns how long held incoming messages are kept.
// Zero means holding is off.
func (c *Config) GetIncomingTTL() time.Duration {
	return time.Duration(c.Persistence.Incoming.TTL) * time.Second
}

// GetIncomingCleanupInterval returns how often expired held messages are purged.
func (c *Config) GetIncomingCleanupInterval() time.Duration {
	return time.Duration(c.Persistence.Incoming.CleanupInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetNetworkInterval returns the reachability polling interval.
func (c *Config) GetNetworkInterval() time.Duration {
	return time.Duration(c.Network.Interval) * time.Second
}
