package domain

import (
	"errors"
	"fmt"
)

// ValidationError covers bad user input: non-numeric age, malformed e-mail,
// dates that do not exist or already passed. It is surfaced to the user as
// plain text and never crashes a flow.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PersistenceError wraps a failed store write. The in-memory mutation it
// refers to is retained so a later successful write can reconcile.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence failed: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// MalformedRecordError marks a stored record the scheduler could not parse.
// The record is skipped for the current scan, never deleted.
type MalformedRecordError struct {
	Identifier string
	Field      string
	Value      string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s for patient %s: %q", e.Field, e.Identifier, e.Value)
}
