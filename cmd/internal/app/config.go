package app

import (
	"time"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/env"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// CORS applies to the plain HTTP routes (/status, /metrics); /ws has its own origin policy.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// AuditSchema holds the audit table when a database is configured.
	AuditSchema  string
	AuditMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	MetricsEnabled bool

	// Security policy:
	// RequireAuditHMAC demands COWORK_AUDIT_HMAC_KEY (>= 32 bytes) for credential fingerprints.
	RequireAuditHMAC bool
	// Production refuses development-only knobs (anonymous auth, insecure websocket).
	Production bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  env.String("COWORK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  env.String("COWORK_LOG_LEVEL", "info"),
		LogFormat: env.String("COWORK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: env.Duration("COWORK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       env.Duration("COWORK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      env.Duration("COWORK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       env.Duration("COWORK_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    env.Int("COWORK_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   env.Duration("COWORK_SHUTDOWN_TIMEOUT", 10*time.Second),

		CORSAllowedOrigins:   env.CSV("COWORK_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: env.Bool("COWORK_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    env.Int("COWORK_CORS_MAX_AGE_SECONDS", 600),

		DatabaseURL: env.String("COWORK_DATABASE_URL", ""),
		DBMaxConns:  env.Int32("COWORK_DB_MAX_CONNS", 10),
		DBMinConns:  env.Int32("COWORK_DB_MIN_CONNS", 0),

		AuditSchema:  env.String("COWORK_AUDIT_SCHEMA", "cowork"),
		AuditMigrate: env.Bool("COWORK_AUDIT_MIGRATE", true),

		ReadinessRequireDB: env.Bool("COWORK_READINESS_REQUIRE_DB", false),

		MetricsEnabled: env.Bool("COWORK_METRICS_ENABLED", true),

		RequireAuditHMAC: env.Bool("COWORK_REQUIRE_AUDIT_HMAC", false),
		Production:       env.Bool("COWORK_PRODUCTION", false),
	}
}
