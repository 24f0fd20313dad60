// Package errors provides coded domain errors shared across services.
//
// Services return these so the transport layer can map failures to responses
// without inspecting error strings. Stores return sentinel errors
// (pkg/platform/sentinel); services translate them into coded errors at the
// boundary.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure. Codes are stable identifiers; messages
// are free text for humans.
type Code string

const (
	// CodeNotFound: a referenced entity does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict: a uniqueness rule was violated (duplicate code,
	// duplicate reservation, copy already on an open loan).
	CodeConflict Code = "conflict"
	// CodeInvalidState: the entity exists but its current state does not
	// admit the requested transition.
	CodeInvalidState Code = "invalid_state"
	// CodePolicyViolation: a lending policy blocks the operation (loan
	// limit, sanction, overdue loans, insufficient availability,
	// reservation date not in the future).
	CodePolicyViolation Code = "policy_violation"
	// CodeValidation: malformed or missing input.
	CodeValidation Code = "validation"
	// CodeTimeout: a transaction or lock acquisition timed out; callers may
	// retry.
	CodeTimeout Code = "timeout"
	// CodeInternal: store or transaction failure.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. It wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		err = e.cause
		e = nil
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
