// Package session runs one MQTT 3.1.1 client session against a broker.
//
// A Session owns the current transport and decoder, the keep-alive and
// connect-timeout timers, the reconnect timer and the flow store. All of
// that state is touched from a single serial goroutine:
//
//	caller ──Publish/Subscribe/...──▶ ops ──▶ loop goroutine ◀── transport callbacks
//	                                              │           ◀── timer callbacks
//	                                              ▼
//	                                  Handler events (dispatcher goroutine)
//
// Public methods post a closure to the loop and wait for it to be accepted;
// completion of a broker round trip is reported through a Token. Handler
// callbacks run on a separate dispatcher goroutine, in order, so a handler
// may call back into the Session.
//
// # Connection lifecycle
//
//	Disconnected ──Connect──▶ Connecting ──CONNACK(0)──▶ Connected
//	     ▲                         │                         │
//	     └──── loss / refusal ─────┴─────────────────────────┘
//	     └──── Disconnect ◀── Disconnecting ◀────────────────┘
//
// Losing the connection for any reason other than Disconnect arms the
// reconnect timer. After every successful CONNACK the outgoing flows still
// in the store are replayed in the order they were recorded.
//
// # Quality of Service
//
// QoS 1 and 2 publishes are recorded as flows before they are written and
// removed when PUBACK or PUBCOMP arrives. Incoming QoS 2 messages are
// recorded on arrival and delivered once, when the broker releases them
// with PUBREL.
package session
