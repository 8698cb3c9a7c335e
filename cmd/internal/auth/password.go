package auth

import (
	"context"
	"errors"
	"slices"

	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/password"
)

// PasswordAuthenticator checks the operator console password.
type PasswordAuthenticator struct {
	hasher  password.Config
	hash    string
	subject string
	scopes  []string
}

// NewPasswordAuthenticator verifies against encodedHash using hasher's bounds.
func NewPasswordAuthenticator(hasher password.Config, encodedHash, subject string, scopes []string) *PasswordAuthenticator {
	if subject == "" {
		subject = "operator"
	}
	return &PasswordAuthenticator{
		hasher:  hasher,
		hash:    encodedHash,
		subject: subject,
		scopes:  slices.Clone(scopes),
	}
}

func (a *PasswordAuthenticator) Authenticate(ctx context.Context, req Request) (Grant, error) {
	if req.Password == "" {
		return Grant{}, ErrNoCredentials
	}
	if req.role() != v1.RoleOperator {
		return Grant{}, ErrRoleMismatch
	}
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}

	ok, err := a.hasher.Verify(a.hash, req.Password)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return Grant{}, ErrConfig
		}
		return Grant{}, err
	}
	if !ok {
		return Grant{}, ErrInvalidCredentials
	}

	return Grant{
		Subject:  a.subject,
		Role:     v1.RoleOperator,
		Scopes:   slices.Clone(a.scopes),
		DeviceID: req.DeviceID,
		Method:   MethodPassword,
	}, nil
}
