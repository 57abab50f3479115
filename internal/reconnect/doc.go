// Package reconnect computes retry delays and arms the reconnect timer.
//
// Delays grow geometrically from Policy.InitialDelay by Policy.Multiplier
// and are capped at Policy.MaxDelay:
//
//	attempt 1: 1s, attempt 2: 2s, attempt 3: 4s ... capped at 60s
//
// A successful connection calls Timer.Reset, which returns the next delay
// to the minimum. Jitter, when configured, only ever shortens a delay so
// the cap is never exceeded.
//
// Timer is safe for concurrent use. Backoff is not.
package reconnect
