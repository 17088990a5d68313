package types

import (
	"errors"
)

var (
	// chain/token pair not bridgeable, no record is created
	ErrUnsupportedRoute = errors.New("unsupported route")
	// operation requested against a transaction in the wrong state
	ErrInvalidState = errors.New("invalid state")
	// fee quote temporarily unavailable, caller may retry with backoff
	ErrTransientEstimation = errors.New("fee estimation temporarily unavailable")
	// store read/write failed after bounded retries
	ErrPersistence = errors.New("persistence failure")

	ErrNotFound       = errors.New("transaction not found")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid owner address")
)

// Retryable reports whether the caller may retry the failed operation.
// Validation errors never are.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientEstimation)
}
