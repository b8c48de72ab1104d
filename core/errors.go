package core

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed or incomplete event submission. It is
// surfaced synchronously to the caller; nothing downstream runs and no
// detection is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StoreWriteError is fatal to the current submission only: the caller is told
// the submission failed, previously committed detections are untouched.
type StoreWriteError struct {
	DetectionID string
	Err         error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed for detection %s: %v", e.DetectionID, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// ActionApplicationError is a per-action failure. It never aborts sibling
// actions and never changes the detection's own status.
type ActionApplicationError struct {
	Kind   ActionKind
	Target string
	Err    error
}

func (e *ActionApplicationError) Error() string {
	return fmt.Sprintf("action %s failed for target %s: %v", e.Kind, e.Target, e.Err)
}

func (e *ActionApplicationError) Unwrap() error {
	return e.Err
}

var (
	// ErrDetectionNotFound is returned by store lookups for unknown IDs.
	ErrDetectionNotFound = errors.New("detection not found")
	// ErrStoreClosed is returned by store operations after shutdown.
	ErrStoreClosed = errors.New("detection store is closed")
	// ErrScorerTimeout marks a scorer that exceeded the analysis deadline.
	// Non-fatal: the scorer abstains and the pipeline continues.
	ErrScorerTimeout = errors.New("scorer exceeded analysis deadline")
	// ErrUnknownActionKind is returned when a batch carries an unrecognized action.
	ErrUnknownActionKind = errors.New("unknown action kind")
)
