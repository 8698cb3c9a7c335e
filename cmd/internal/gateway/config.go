package gateway

import (
	"time"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/env"
)

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second

	// Origin is required by default and only localhost is allowed.
	defaultOriginRequired = true
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Config holds the gateway knobs. Zero fields fall back to defaults in New.
type Config struct {
	// DevInsecure disables websocket.Accept's origin verification. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout  time.Duration
	SendQueueSize int
	MaxFrameBytes int64

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	// HandshakeTimeout closes connections still pending after this long.
	HandshakeTimeout time.Duration
	// StaleTimeout closes authenticated connections with no heartbeat for this long.
	StaleTimeout  time.Duration
	SweepInterval time.Duration
	TickInterval  time.Duration

	IdempotencyTTL time.Duration

	ServerVersion string
}

// DefaultConfig returns secure defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   defaultOriginRequired,
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:     defaultWriteTimeout,
		SendQueueSize:    defaultSendQueueSize,
		MaxFrameBytes:    maxFrameBytes,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
		HandshakeTimeout: handshakeTimeout,
		StaleTimeout:     staleTimeout,
		SweepInterval:    sweepInterval,
		TickInterval:     tickInterval,
		IdempotencyTTL:   idempotencyTTL,
		ServerVersion:    "dev",
	}
}

// LoadConfigFromEnv overlays COWORK_WS_* and COWORK_CP_* variables on DefaultConfig.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()

	cfg := Config{
		DevInsecure:    env.Bool("COWORK_WS_DEV_INSECURE", false),
		OriginRequired: env.Bool("COWORK_WS_ORIGIN_REQUIRED", def.OriginRequired),
		AllowedOrigins: env.CSV("COWORK_WS_ALLOWED_ORIGINS", defaultAllowedOrigins),

		WriteTimeout:  env.Duration("COWORK_WS_WRITE_TIMEOUT", def.WriteTimeout),
		SendQueueSize: env.Int("COWORK_WS_SEND_QUEUE", def.SendQueueSize),
		MaxFrameBytes: int64(env.Int("COWORK_WS_MAX_FRAME_BYTES", int(def.MaxFrameBytes))),

		HeartbeatEvery:   env.Duration("COWORK_WS_HEARTBEAT_INTERVAL", def.HeartbeatEvery),
		HeartbeatTimeout: env.Duration("COWORK_WS_HEARTBEAT_TIMEOUT", def.HeartbeatTimeout),

		RateEvents: env.Int("COWORK_WS_RATE_EVENTS", def.RateEvents),
		RateWindow: env.Duration("COWORK_WS_RATE_WINDOW", def.RateWindow),

		HandshakeTimeout: env.Duration("COWORK_CP_HANDSHAKE_TIMEOUT", def.HandshakeTimeout),
		StaleTimeout:     env.Duration("COWORK_CP_STALE_TIMEOUT", def.StaleTimeout),
		SweepInterval:    env.Duration("COWORK_CP_SWEEP_INTERVAL", def.SweepInterval),
		TickInterval:     env.Duration("COWORK_CP_TICK_INTERVAL", def.TickInterval),

		IdempotencyTTL: env.Duration("COWORK_CP_IDEMPOTENCY_TTL", def.IdempotencyTTL),

		ServerVersion: env.String("COWORK_VERSION", def.ServerVersion),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = def.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = def.StaleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = def.IdempotencyTTL
	}
	if c.ServerVersion == "" {
		c.ServerVersion = def.ServerVersion
	}
	return c
}
