package watchledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("watchledger: not found")
	ErrInvalidInput = errors.New("watchledger: invalid input")
	ErrUnauthorized = errors.New("watchledger: unauthorized")

	// Ledger errors
	ErrInvalidSeconds     = errors.New("watchledger: watch-time seconds negative or out of range")
	ErrInvalidAmount      = errors.New("watchledger: token amount must be positive")
	ErrInsufficientTokens = errors.New("watchledger: insufficient tokens")
	ErrBasicGrantDisabled = errors.New("watchledger: basic token grant disabled")
	ErrIntakeBufferFull   = errors.New("watchledger: watch-time intake buffer full")
	ErrSpendRejected      = errors.New("watchledger: spend rejected by plugin")
	ErrInconsistentStats  = errors.New("watchledger: ledger record violates derived invariants")

	// Pool errors
	ErrPoolNotFound       = errors.New("watchledger: token pool not found")
	ErrTokenPoolExhausted = errors.New("watchledger: token pool exhausted")

	// Store errors
	ErrConflict      = errors.New("watchledger: version conflict")
	ErrStoreNotReady = errors.New("watchledger: store not ready")
	ErrStoreClosed   = errors.New("watchledger: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("watchledger: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "watchledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("watchledger: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPoolNotFound)
}

// IsBalanceError returns true if the error means there was nothing to spend.
func IsBalanceError(err error) bool {
	return errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrTokenPoolExhausted)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrIntakeBufferFull) ||
		errors.Is(err, ErrStoreNotReady)
}
