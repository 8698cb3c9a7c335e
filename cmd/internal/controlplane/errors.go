package controlplane

import "errors"

var (
	// ErrAuthSettled is returned when an auth transition is attempted on a client
	// that is already authenticated or rejected.
	ErrAuthSettled = errors.New("controlplane: auth state already settled")

	// ErrDuplicateClient is returned by Registry.Add for an id that is already registered.
	ErrDuplicateClient = errors.New("controlplane: duplicate client id")

	// ErrNilTransport is returned by NewClient without a transport.
	ErrNilTransport = errors.New("controlplane: nil transport")
)
