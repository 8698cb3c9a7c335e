package auth

import (
	"os"
	"strings"
	"time"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/env"
)

// Config is the auth surface loaded from the environment.
type Config struct {
	// Issuer is the "iss" claim required on every token.
	Issuer string

	// TokenTTL is the default lifetime of issued tokens.
	TokenTTL time.Duration

	// ClockSkew is tolerated between issuer and verifier clocks.
	ClockSkew time.Duration

	// SecretKeyHex signs tokens (Ed25519, hex). Optional on a verify-only gateway.
	SecretKeyHex string

	// PublicKeyHex verifies tokens when no secret key is configured.
	PublicKeyHex string

	// OperatorPasswordHash enables password login for operators when set.
	OperatorPasswordHash string

	// OperatorScopes are granted to a password login.
	OperatorScopes []string

	// AllowAnonymous grants AnonymousScopes to any connection. Development only.
	AllowAnonymous  bool
	AnonymousScopes []string
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:          "cowork",
		TokenTTL:        30 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
		OperatorScopes:  []string{"admin"},
		AnonymousScopes: []string{"read"},
	}
}

// LoadConfigFromEnv reads:
//   - COWORK_PASETO_V4_SECRET_KEY_HEX / COWORK_PASETO_V4_PUBLIC_KEY_HEX
//   - COWORK_AUTH_ISSUER, COWORK_AUTH_TOKEN_TTL, COWORK_AUTH_CLOCK_SKEW
//   - COWORK_OPERATOR_PASSWORD_HASH, COWORK_OPERATOR_SCOPES
//   - COWORK_AUTH_ALLOW_ANONYMOUS, COWORK_AUTH_ANONYMOUS_SCOPES
//
// At least one credential source must be configured. Malformed durations return ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.Issuer = env.String("COWORK_AUTH_ISSUER", cfg.Issuer)

	if v := strings.TrimSpace(os.Getenv("COWORK_AUTH_TOKEN_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TokenTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("COWORK_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.SecretKeyHex = env.String("COWORK_PASETO_V4_SECRET_KEY_HEX", "")
	cfg.PublicKeyHex = env.String("COWORK_PASETO_V4_PUBLIC_KEY_HEX", "")
	cfg.OperatorPasswordHash = env.String("COWORK_OPERATOR_PASSWORD_HASH", "")
	cfg.OperatorScopes = env.CSV("COWORK_OPERATOR_SCOPES", strings.Join(cfg.OperatorScopes, ","))
	cfg.AllowAnonymous = env.Bool("COWORK_AUTH_ALLOW_ANONYMOUS", false)
	cfg.AnonymousScopes = env.CSV("COWORK_AUTH_ANONYMOUS_SCOPES", strings.Join(cfg.AnonymousScopes, ","))

	if !cfg.HasTokens() && cfg.OperatorPasswordHash == "" && !cfg.AllowAnonymous {
		return Config{}, ErrConfig
	}
	return cfg, nil
}

// HasTokens reports whether token verification is configured.
func (c Config) HasTokens() bool {
	return c.SecretKeyHex != "" || c.PublicKeyHex != ""
}
