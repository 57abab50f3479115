// Package api implements the HTTP status API and WebSocket event stream for
// Courier.
//
// Endpoints (all under /api/v1):
//   - GET  /health   connected or degraded
//   - GET  /status   session state, last error, event counters
//   - GET  /metrics  runtime and session metrics
//   - GET  /flows    in-flight QoS 1/2 flows from the persistence store
//   - GET  /events   WebSocket stream of session events
//   - POST /publish  publish a message (bearer token required)
//
// # Security
//
// Bearer tokens are HS256 JWTs signed with api.jwt.secret. Use IssueToken
// or "courier token" to mint one. Browsers that cannot set headers on a
// WebSocket handshake may pass the token in the "token" query parameter.
//
// # Graceful Degradation
//
// The server keeps running while the broker is unreachable. Reads and the
// event stream work; publishes return 503 until the session reconnects.
package api
