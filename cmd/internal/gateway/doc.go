// Package gateway is the WebSocket entrypoint of the control plane.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats, runs the
// connect.challenge handshake, and routes authenticated requests to registered methods.
// Guarded methods execute at most once per idempotency key.
package gateway
