package common

import (
	"errors"
	"fmt"
)

// ValidationError describes a rejected input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps err (usually an ozzo-validation error) as a
// ValidationError without a specific field.
func NewValidationError(err error) *ValidationError {
	return &ValidationError{Reason: err.Error(), Err: err}
}

// VersionConflictError is returned when a conditional write was rejected
// because the remote record has moved on. Remote holds whatever the store
// reported as the current value and may be nil when it was not available.
type VersionConflictError struct {
	SyncID          string
	ExpectedVersion int64
	RemoteVersion   int64
	Remote          any
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for %s: expected %d, remote has %d", e.SyncID, e.ExpectedVersion, e.RemoteVersion)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkTransient)
}
