package billing

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every error returned by the billing context matches exactly one
// of them through errors.Is.
var (
	ErrValidation   = errors.New("billing: validation failed")
	ErrPrecondition = errors.New("billing: precondition failed")
	ErrPersistence  = errors.New("billing: persistence failed")
)

var (
	// ErrReadingNotFound is returned when a meter reading does not exist.
	ErrReadingNotFound = errors.New("billing: reading not found")
	// ErrReadingClosed is returned when mutating or closing a closed reading.
	ErrReadingClosed = errors.New("billing: reading already closed")
	// ErrReadingOpen is returned when a closed reading is required.
	ErrReadingOpen = errors.New("billing: reading not closed yet")
	// ErrIncompleteReadings is returned when an active unit has no submitted reading.
	ErrIncompleteReadings = errors.New("billing: readings missing for active units")
	// ErrNoActiveUnits is returned when a condo has no active units to allocate to.
	ErrNoActiveUnits = errors.New("billing: no active units")
	// ErrUnknownCondo is returned when the condo does not exist.
	ErrUnknownCondo = errors.New("billing: unknown condo")
	// ErrNonPositiveTotalReading is returned when the main meter delta is not > 0.
	ErrNonPositiveTotalReading = errors.New("billing: total reading must be positive")
	// ErrDateBeforeLastClose is returned when a period predates the latest closed one.
	ErrDateBeforeLastClose = errors.New("billing: date before latest closed period")
	// ErrCommitConflict is returned by committers when the open-status guard fails.
	ErrCommitConflict = errors.New("billing: commit conflict")
)

// FieldError describes one invalid input, optionally scoped to a unit.
type FieldError struct {
	UnitID string `json:"unit_id,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f FieldError) String() string {
	if f.UnitID == "" {
		return f.Field + ": " + f.Reason
	}
	return "unit " + f.UnitID + " " + f.Field + ": " + f.Reason
}

// ValidationError reports malformed input, itemized by unit when applicable.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a ValidationError from field errors.
func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

// Add appends a field error.
func (e *ValidationError) Add(unitID, field, reason string) {
	e.Fields = append(e.Fields, FieldError{UnitID: unitID, Field: field, Reason: reason})
}

// Empty reports whether no field errors were collected.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns nil when no field errors were collected.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PreconditionError reports a state that forbids the operation.
// Nothing is written when it is returned.
type PreconditionError struct {
	Reason       string
	Err          error
	MissingUnits []string
}

// NewPreconditionError wraps a specific sentinel.
func NewPreconditionError(err error, reason string) *PreconditionError {
	return &PreconditionError{Err: err, Reason: reason}
}

func (e *PreconditionError) Error() string {
	msg := ErrPrecondition.Error()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.MissingUnits) > 0 {
		msg += fmt.Sprintf(" (missing: %s)", strings.Join(e.MissingUnits, ", "))
	}
	return msg
}

// Is matches ErrPrecondition.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// Unwrap exposes the specific sentinel.
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a rejected store operation.
type PersistenceError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *PersistenceError) Error() string {
	msg := ErrPersistence.Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Retryable {
		msg += " (retryable)"
	}
	return msg
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Unwrap exposes the store error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a retryable persistence conflict.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Retryable
}
