// Package apperr defines the error taxonomy shared by the run coordinator,
// the catalog and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies the class of an error.
type Code string

const (
	// Input validation
	CodeMissingField Code = "MISSING_FIELD"
	CodeInvalidInput Code = "INVALID_INPUT"

	// Lookup
	CodeNotFound Code = "NOT_FOUND"

	// External tools
	CodeToolUnavailable  Code = "TOOL_UNAVAILABLE"
	CodeGenerationFailed Code = "GENERATION_FAILED"

	// Data
	CodeInvalidScenarioData Code = "INVALID_SCENARIO_DATA"
	CodeStorageFailure      Code = "STORAGE_FAILURE"
)

// Error is a classified error. Two errors match with errors.Is when their
// codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with the given code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err with the given code.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrMissingField        = &Error{Code: CodeMissingField, Message: "missing required field"}
	ErrInvalidInput        = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrToolUnavailable     = &Error{Code: CodeToolUnavailable, Message: "tool unavailable"}
	ErrGenerationFailed    = &Error{Code: CodeGenerationFailed, Message: "generation failed"}
	ErrInvalidScenarioData = &Error{Code: CodeInvalidScenarioData, Message: "invalid scenario data"}
	ErrStorageFailure      = &Error{Code: CodeStorageFailure, Message: "storage failure"}
)

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
