package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeConfig         = "CONFIG_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInvalidArgs    = "INVALID_ARGUMENTS"
	ErrCodeExecution      = "EXECUTION_ERROR"
	ErrCodePartialBuild   = "BUILD_PARTIAL_FAILURE"
	ErrCodeMissingSession = "MISSING_SESSION"
	ErrCodeAdmission      = "ADMISSION_DENIED"
	ErrCodeStore          = "STORE_ERROR"
)

// Error is the structured error type shared by every mediamcp component.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("[%s] tool %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTool attaches the name of the tool that produced the error.
func (e *Error) WithTool(name string) *Error {
	e.Tool = name
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" if
// err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries a structured error with the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// NotFound builds the canonical NOT_FOUND error for a kind/id pair.
func NotFound(kind, id string) *Error {
	return NewErrorf(ErrCodeNotFound, "%s %q not found", kind, id).
		WithDetails(map[string]any{"kind": kind, "id": id})
}
