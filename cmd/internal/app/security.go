package app

import (
	"errors"
	"fmt"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/auth"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/gateway"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/token"
)

// ErrSecurityPolicy wraps every startup policy violation.
var ErrSecurityPolicy = errors.New("security policy")

// ValidateSecurityConfig enforces the startup security policy. It fails fast rather than
// running with weaker settings than the operator asked for.
func ValidateSecurityConfig(cfg Config, authCfg auth.Config, gwCfg gateway.Config) error {
	if cfg.RequireAuditHMAC {
		if _, err := token.FingerprinterFromEnv(true); err != nil {
			switch {
			case errors.Is(err, token.ErrHMACKeyMissing):
				return fmt.Errorf("%w: COWORK_REQUIRE_AUDIT_HMAC=true but %s is missing", ErrSecurityPolicy, token.HMACEnvKey)
			case errors.Is(err, token.ErrHMACKeyTooShort):
				return fmt.Errorf("%w: %s is too short (min %d bytes)", ErrSecurityPolicy, token.HMACEnvKey, token.MinHMACKeyBytes)
			default:
				return err
			}
		}
	}

	if !cfg.Production {
		return nil
	}
	if authCfg.AllowAnonymous {
		return fmt.Errorf("%w: anonymous auth is not allowed in production", ErrSecurityPolicy)
	}
	if gwCfg.DevInsecure {
		return fmt.Errorf("%w: COWORK_WS_DEV_INSECURE is not allowed in production", ErrSecurityPolicy)
	}
	if !gwCfg.OriginRequired {
		return fmt.Errorf("%w: COWORK_WS_ORIGIN_REQUIRED must stay on in production", ErrSecurityPolicy)
	}
	return nil
}
