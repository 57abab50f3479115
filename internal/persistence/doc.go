// Package persistence stores in-flight message flows and subscriptions.
//
// A flow is a QoS 1 or QoS 2 message that has been sent or received but
// whose acknowledgement handshake has not finished. The session records a
// flow before the first byte leaves the socket and removes it only when the
// final acknowledgement arrives, so nothing is lost across a reconnect.
//
// # Backends
//
//   - MemoryStore: flows live for the lifetime of the process.
//   - SQLiteStore: flows live in the flows table of the shared SQLite
//     database and survive a restart.
//
// Both enumerate pending flows in insertion order. Replaying them in that
// order after a reconnect preserves per-topic ordering at the broker.
//
// # Subscriptions
//
// SubscriptionStore remembers the filters a client wants and any
// UNSUBSCRIBE that has not been acknowledged yet. The session manager
// restores both after every successful connect.
//
// # Held messages
//
// IncomingStore keeps received messages that arrived while no handler
// was registered for their topic. They are returned oldest first when a
// handler subscribes, then deleted; anything left longer than the
// configured time to live is purged.
//
// # Thread Safety
//
// All stores are safe for concurrent use.
package persistence
