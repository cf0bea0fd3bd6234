// Package errors provides standardized error handling for the profile sync core.
// Every failure the pipeline can produce maps to one ErrorCode so screens can
// decide how to surface it without inspecting causes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a standardized error code for the profile sync core.
type ErrorCode string

const (
	// Permission and picker outcomes
	PERMISSION_DENIED  ErrorCode = "PERMISSION_DENIED"  // Library access denied or restricted
	PICKER_CANCELLED   ErrorCode = "PICKER_CANCELLED"   // User dismissed the picker
	PICKER_LOAD_FAILED ErrorCode = "PICKER_LOAD_FAILED" // Picked content could not be materialized

	// Validation
	OVERSIZE_REJECTED ErrorCode = "OVERSIZE_REJECTED" // Media larger than the configured ceiling
	VALIDATION        ErrorCode = "VALIDATION"        // Document failed schema validation

	// Remote store
	NOT_FOUND            ErrorCode = "NOT_FOUND"            // Record does not exist
	UPLOAD_FAILED        ErrorCode = "UPLOAD_FAILED"        // Object storage upload failed
	PROFILE_WRITE_FAILED ErrorCode = "PROFILE_WRITE_FAILED" // Document write failed
	SUBSCRIPTION_LOST    ErrorCode = "SUBSCRIPTION_LOST"    // Realtime subscription dropped

	INTERNAL ErrorCode = "INTERNAL" // Anything else
)

// Error represents a standardized pipeline error.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, details interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap creates a new Error carrying cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != nil {
		msg = fmt.Sprintf("%s (details: %v)", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so callers can
// write errors.Is(err, errordefs.New(errordefs.NOT_FOUND, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the ErrorCode from err, or INTERNAL if err carries none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return INTERNAL
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Silent reports whether a failure should not produce any user-facing dialog.
func Silent(code ErrorCode) bool {
	return code == PICKER_CANCELLED
}

// Retryable reports whether the user may re-trigger the failed action as-is.
// Nothing is retried automatically.
func Retryable(code ErrorCode) bool {
	switch code {
	case UPLOAD_FAILED, PROFILE_WRITE_FAILED, PICKER_LOAD_FAILED:
		return true
	default:
		return false
	}
}
