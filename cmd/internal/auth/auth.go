package auth

import (
	"context"
	"errors"
	"slices"
	"time"

	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

// Method names recorded on a Grant.
const (
	MethodToken     = "token"
	MethodPassword  = "password"
	MethodAnonymous = "anonymous"
)

// Request is the credential material of one connect attempt.
type Request struct {
	Role          string
	Token         string
	Password      string
	DeviceID      string
	RemoteAddress string
}

// role returns the requested role, defaulting to operator.
func (r Request) role() string {
	if r.Role == "" {
		return v1.RoleOperator
	}
	return r.Role
}

// Grant is a successful authentication. Scopes is the maximum the credential allows.
type Grant struct {
	Subject   string
	Role      string
	Scopes    []string
	DeviceID  string
	Method    string
	ExpiresAt time.Time
}

// Authenticator validates one kind of credential.
type Authenticator interface {
	Authenticate(ctx context.Context, req Request) (Grant, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, req Request) (Grant, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, req Request) (Grant, error) {
	return f(ctx, req)
}

// Chain tries each authenticator in order. An authenticator returning ErrNoCredentials is
// skipped; any other error stops the chain.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, req Request) (Grant, error) {
	for _, a := range c {
		if a == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Grant{}, err
		}
		g, err := a.Authenticate(ctx, req)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		return g, err
	}
	return Grant{}, ErrNoCredentials
}

// Anonymous grants fixed scopes to anyone. Development only; ValidateSecurityConfig refuses
// it when production policy is on.
type Anonymous struct {
	Scopes []string
}

func (a Anonymous) Authenticate(_ context.Context, req Request) (Grant, error) {
	return Grant{
		Subject:  "anonymous",
		Role:     req.role(),
		Scopes:   slices.Clone(a.Scopes),
		DeviceID: req.DeviceID,
		Method:   MethodAnonymous,
	}, nil
}
