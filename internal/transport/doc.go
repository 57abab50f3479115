// Package transport carries MQTT bytes between the session and a broker.
//
// Every variant shares one stream lifecycle:
//
//	Open(ctx, h) ──dial──▶ HandleOpen ──▶ HandleData ... ──▶ HandleClosed | HandleError
//
// Open returns immediately. Dialing happens on a background goroutine and
// its outcome arrives through the Handler. Exactly one terminal callback
// (HandleClosed or HandleError) is delivered per transport instance, after
// which the transport is spent; reconnecting means creating a new one.
//
// # Variants
//
//   - tcp://, mqtt://        plain TCP (default port 1883)
//   - ssl://, tls://, mqtts:// TLS over TCP (default port 8883)
//   - ws://, wss://          MQTT over WebSocket, subprotocol "mqtt"
//
// # Security Considerations
//
// TLS connections are verified by a SecurityPolicy which can pin either
// the full certificate or its public key. AllowInvalidCertificates turns
// chain validation off and should only be used against test brokers.
//
// # Thread Safety
//
// Send and Close are safe to call from any goroutine. Handler callbacks run
// on the transport's read goroutine and must not block for long.
package transport
