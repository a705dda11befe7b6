package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// NotFoundError: the referenced snapshot/conflict does not exist (or belongs
// to another business). Surfaced to the caller, not retried.
type NotFoundError struct {
	Resource string
	Id       string
}

func (e *NotFoundError) Error() string {
	if e.Id == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.Id)
}

func NewNotFoundError(resource string, id string) error {
	return &NotFoundError{Resource: resource, Id: id}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) || errors.Is(err, ErrorRecordNotFound)
}

// InvalidStateError: the operation was attempted on a record whose lifecycle
// state does not allow it (e.g. resolving an already resolved conflict).
// Indicates a race; the caller should refresh and re-check.
type InvalidStateError struct {
	Op           string
	CurrentState string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed: record is %s", e.Op, e.CurrentState)
}

func NewInvalidStateError(op string, currentState string) error {
	return &InvalidStateError{Op: op, CurrentState: currentState}
}

func IsInvalidState(err error) bool {
	var is *InvalidStateError
	return errors.As(err, &is)
}

// ValidationError: malformed input. Fields carries the offending field names
// so the operator sees exactly what to fix.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

func NewValidationError(message string, fields ...string) error {
	return &ValidationError{Message: message, Fields: fields}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PersistenceError: a local/remote storage read or write failed. Recoverable;
// callers fall back to defaults or retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
