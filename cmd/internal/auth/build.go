package auth

import (
	"time"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/password"
)

// New assembles the authenticator chain described by cfg: tokens first, then the operator
// password, then anonymous access when allowed.
func New(cfg Config, hasher password.Config, now func() time.Time) (Authenticator, *TokenManager, error) {
	var (
		chain  Chain
		tokens *TokenManager
	)

	if cfg.HasTokens() {
		tm, err := NewTokenManager(cfg)
		if err != nil {
			return nil, nil, err
		}
		tokens = tm
		chain = append(chain, NewTokenAuthenticator(tm, now))
	}
	if cfg.OperatorPasswordHash != "" {
		chain = append(chain, NewPasswordAuthenticator(hasher, cfg.OperatorPasswordHash, "operator", cfg.OperatorScopes))
	}
	if cfg.AllowAnonymous {
		chain = append(chain, Anonymous{Scopes: cfg.AnonymousScopes})
	}

	if len(chain) == 0 {
		return nil, nil, ErrConfig
	}
	return chain, tokens, nil
}
