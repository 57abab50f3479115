// Package logging provides structured logging for Courier.
//
// The package wraps log/slog so every component logs the same way:
// JSON in production, text when a human is watching, and a fixed pair of
// default fields on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	sessLogger := logger.With("component", "session")
//	sessLogger.Info("connected", "client_id", id)
//
// *Logger satisfies the small Logger interfaces declared by the session,
// manager, transport and client packages.
//
// # Security
//
// Never log passwords, JWT secrets or message payloads. Log sizes and
// topics instead.
package logging
