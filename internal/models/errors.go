package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means a window or reference set is below the
	// minimum sample count. Cycles treat this as a skip, not a failure.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrBaselineNotFound means no baseline exists for the model. The
	// cycle for that model fails; other models are unaffected.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrNotFound means a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved means an alert was already resolved. Callers
	// should treat it as a no-op success.
	ErrAlreadyResolved = errors.New("alert already resolved")
)

// TransientError wraps a store failure that is worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable, annotated with the failing operation.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
