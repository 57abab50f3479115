// Package manager supervises one MQTT session and exposes a coarse
// lifecycle to applications.
//
// The session reports fine-grained connection states. The manager folds
// them into six states and enforces which transitions are legal:
//
//	Closed ──Start──▶ Starting ──▶ Connecting ──▶ Connected
//	                      │            │  ▲            │
//	                      ▼            ▼  │            ▼
//	                      └────────▶ Error ◀───────────┘
//
//	any running state ──Stop──▶ Closing ──▶ Closed
//
// Error → Connecting is the only backward move and happens when the
// session's reconnect timer fires or NetworkChanged(true) forces an attempt.
//
// # Subscriptions
//
// Subscribe and Unsubscribe go through a persistence.SubscriptionStore.
// After every successful connect the manager re-subscribes to everything
// stored and resends UNSUBSCRIBE for filters the broker never
// acknowledged, so callers do not have to track reconnects.
//
// # Events
//
// Every connection, subscription and message milestone is published as an
// Event to all registered EventHandlers. Handlers are called one at a
// time and must not block.
package manager
