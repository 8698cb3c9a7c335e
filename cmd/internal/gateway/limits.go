package gateway

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10

	// Max length of a node.event name.
	maxEventNameLen = 128
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (requests per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Liveness sweep.
	handshakeTimeout = 10 * time.Second
	staleTimeout     = 90 * time.Second
	sweepInterval    = 15 * time.Second
	tickInterval     = 30 * time.Second

	idempotencyTTL = 5 * time.Minute
)
