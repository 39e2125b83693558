// Package errors provides structured error types for the stacklock engine.
//
// Every failure that crosses a package boundary carries a [Code] so the CLI and
// library callers can tell a malformed input from an unsatisfiable requirement
// set without parsing messages:
//
//   - PARSE_ERROR: malformed version, specifier, marker or requirement string
//   - SOURCE_UNAVAILABLE: a metadata source could not answer
//   - RESOLUTION_CONFLICT: no consistent assignment exists
//   - STALE_LOCK: a persisted lock no longer matches its inputs
//   - INCOMPATIBLE_ENVIRONMENT: a lock is applied to targets it was not built for
//
// # Usage
//
//	err := errors.New(errors.ErrCodeParse, "invalid version %q", s)
//	if errors.Is(err, errors.ErrCodeParse) {
//	    // report and stop
//	}
//
//	err := errors.Wrap(errors.ErrCodeSourceUnavailable, origErr, "fetch %s", url)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input errors
	ErrCodeParse        Code = "PARSE_ERROR"
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeInvalidPath  Code = "INVALID_PATH"

	// Resolution and lock errors
	ErrCodeSourceUnavailable       Code = "SOURCE_UNAVAILABLE"
	ErrCodeResolutionConflict      Code = "RESOLUTION_CONFLICT"
	ErrCodeStaleLock               Code = "STALE_LOCK"
	ErrCodeIncompatibleEnvironment Code = "INCOMPATIBLE_ENVIRONMENT"

	// Resource errors
	ErrCodeNotFound Code = "NOT_FOUND"
	ErrCodeNetwork  Code = "NETWORK_ERROR"

	// Run errors
	ErrCodeCancelled   Code = "CANCELLED"
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Coder is implemented by error types outside this package that map onto a
// [Code], such as the resolver's conflict report.
type Coder interface {
	Code() Code
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error or [Coder] with a matching code.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if no error in the chain carries a code.
func GetCode(err error) Code {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Code
		case Coder:
			return e.Code()
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s", e.Message, UserMessage(e.Cause))
		}
		return e.Message
	}
	return err.Error()
}

// ExitCode maps an error to the process exit status used by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch GetCode(err) {
	case ErrCodeResolutionConflict:
		return 3
	case ErrCodeStaleLock:
		return 4
	case ErrCodeIncompatibleEnvironment:
		return 5
	case ErrCodeCancelled:
		return 130
	default:
		return 1
	}
}
