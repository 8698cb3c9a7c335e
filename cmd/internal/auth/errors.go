package auth

import "errors"

var (
	// ErrNoCredentials means the request carried nothing this authenticator understands.
	// Chain treats it as "try the next one".
	ErrNoCredentials = errors.New("auth: no credentials")

	// ErrInvalidCredentials is returned for a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken is returned when a token fails signature, issuer, or time checks.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrRoleMismatch is returned when the credential is valid for a different role.
	ErrRoleMismatch = errors.New("auth: role mismatch")

	// ErrDeviceMismatch is returned when a device-bound token is presented by another device.
	ErrDeviceMismatch = errors.New("auth: device mismatch")

	// ErrSigningDisabled is returned by Issue on a verify-only TokenManager.
	ErrSigningDisabled = errors.New("auth: token signing disabled")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("auth: invalid config")
)
