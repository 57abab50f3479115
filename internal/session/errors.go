package session

import "errors"

// Domain errors for the session package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned for operations that need a live connection.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAlreadyConnected is returned by Connect while connecting or connected.
	ErrAlreadyConnected = errors.New("session: already connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")

	// ErrInvalidQoS is returned for QoS values above 2.
	ErrInvalidQoS = errors.New("session: invalid qos")

	// ErrInvalidTopic is returned for empty topics or wildcards in publish topics.
	ErrInvalidTopic = errors.New("session: invalid topic")

	// ErrNoMessageIDs is returned when all 65535 message ids are in flight.
	ErrNoMessageIDs = errors.New("session: no free message id")

	// ErrConnectionRefused wraps a non-zero CONNACK return code.
	ErrConnectionRefused = errors.New("session: connection refused")

	// ErrConnectTimeout is reported when no CONNACK arrives in time.
	ErrConnectTimeout = errors.New("session: connect timeout")

	// ErrKeepAliveTimeout is reported when a PINGRESP is missing.
	ErrKeepAliveTimeout = errors.New("session: keep-alive timeout")

	// ErrReadTimeout is reported when the idle check sees no inbound
	// packet within IdlePolicy.ReadTimeout.
	ErrReadTimeout = errors.New("session: read timeout")

	// ErrConnectionClosed is reported when the broker closes the connection.
	ErrConnectionClosed = errors.New("session: connection closed by broker")

	// ErrConnectionLost completes tokens that were waiting on a dropped connection.
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrProtocolViolation is reported for malformed or unexpected packets.
	ErrProtocolViolation = errors.New("session: protocol violation")

	// ErrReconnectExhausted is reported when the reconnect policy gives up.
	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")
)
