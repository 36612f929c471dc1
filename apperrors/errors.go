// Package apperrors defines the failure taxonomy shared by the record store,
// the constraint layer and the booking lifecycle.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConstraintViolation
	KindIllegalTransition
	KindVerificationFailure
	KindPersistenceFailure
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConstraintViolation:
		return "constraint_violation"
	case KindIllegalTransition:
		return "illegal_transition"
	case KindVerificationFailure:
		return "verification_failure"
	case KindPersistenceFailure:
		return "persistence_failure"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Reason narrows a ConstraintViolation.
type Reason string

const (
	ReasonForeignKeyMissing Reason = "foreign_key_missing"
	ReasonDuplicateValue    Reason = "duplicate_value"
	ReasonStillReferenced   Reason = "still_referenced"
)

// Error is the structured error returned by every core operation.
type Error struct {
	Kind       Kind
	Reason     Reason
	Collection string
	Field      string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString("(" + string(e.Reason) + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind. A sentinel that
// carries a Reason only matches errors with that reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConstraintViolation = &Error{Kind: KindConstraintViolation}
	ErrForeignKeyMissing   = &Error{Kind: KindConstraintViolation, Reason: ReasonForeignKeyMissing}
	ErrDuplicateValue      = &Error{Kind: KindConstraintViolation, Reason: ReasonDuplicateValue}
	ErrStillReferenced     = &Error{Kind: KindConstraintViolation, Reason: ReasonStillReferenced}
	ErrIllegalTransition   = &Error{Kind: KindIllegalTransition}
	ErrVerificationFailure = &Error{Kind: KindVerificationFailure}
	ErrPersistenceFailure  = &Error{Kind: KindPersistenceFailure}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
)

func NotFound(collection string, id int64) *Error {
	return &Error{
		Kind:       KindNotFound,
		Collection: collection,
		Message:    fmt.Sprintf("id %d not found in %s", id, collection),
	}
}

func ForeignKeyMissing(refCollection, field string, id any) *Error {
	return &Error{
		Kind:       KindConstraintViolation,
		Reason:     ReasonForeignKeyMissing,
		Collection: refCollection,
		Field:      field,
		Message:    fmt.Sprintf("foreign key %s=%v not found in %s", field, id, refCollection),
	}
}

func Duplicate(collection string, fields []string, values []any) *Error {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s=%v", f, values[i])
	}
	return &Error{
		Kind:       KindConstraintViolation,
		Reason:     ReasonDuplicateValue,
		Collection: collection,
		Field:      strings.Join(fields, ","),
		Message:    fmt.Sprintf("%s already exists in %s", strings.Join(parts, ", "), collection),
	}
}

func StillReferenced(collection string, id int64, by string, count int) *Error {
	return &Error{
		Kind:       KindConstraintViolation,
		Reason:     ReasonStillReferenced,
		Collection: collection,
		Message:    fmt.Sprintf("%s %d is referenced by %d record(s) in %s", collection, id, count, by),
	}
}

func IllegalTransition(format string, args ...any) *Error {
	return &Error{Kind: KindIllegalTransition, Message: fmt.Sprintf(format, args...)}
}

func VerificationFailure(format string, args ...any) *Error {
	return &Error{Kind: KindVerificationFailure, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a backend failure. Errors that are already typed pass
// through unchanged.
func Persistence(collection string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{
		Kind:       KindPersistenceFailure,
		Collection: collection,
		Message:    "storage failure on " + collection,
		Err:        err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConstraintViolation:
		return http.StatusConflict
	case KindIllegalTransition:
		return http.StatusConflict
	case KindVerificationFailure:
		return http.StatusUnprocessableEntity
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
