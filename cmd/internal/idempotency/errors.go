package idempotency

import "errors"

var (
	// ErrOperationPanicked is stored as the failure of an operation that panicked.
	ErrOperationPanicked = errors.New("idempotency: operation panicked")

	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("idempotency: manager closed")
)
