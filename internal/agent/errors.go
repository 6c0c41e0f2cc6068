package agent

import (
	"errors"
	"fmt"
)

// Code is a structured error code surfaced to the caller. Using a custom type
// ensures only predefined constants flow through the error taxonomy.
type Code string

const (
	// -- Client errors: nothing mutated beyond what was already true --
	CodeTaskNotFound Code = "TASK_NOT_FOUND"
	CodeTaskComplete Code = "TASK_COMPLETED"
	CodeTaskFailed   Code = "TASK_FAILED"

	// CodeValidation covers malformed input: missing fields, unparseable
	// snapshots. Nothing is mutated.
	CodeValidation Code = "VALIDATION_ERROR"

	// -- Policy exhaustion: the task is marked failed before reporting --
	CodeStepLimitExceeded   Code = "STEP_LIMIT_EXCEEDED"
	CodeMaxRetriesExceeded  Code = "MAX_RETRIES_EXCEEDED"
	CodeConsecutiveFailures Code = "MAX_CONSECUTIVE_FAILURES"

	// -- Generation errors: the task is marked failed before reporting --
	CodeGenerationError     Code = "GENERATION_ERROR"
	CodeInvalidActionFormat Code = "INVALID_ACTION_FORMAT"

	// -- Infrastructure --
	CodeStoreFailure Code = "STORE_FAILURE"
)

// Error is the typed error every fatal orchestrator path returns. Degradable
// failures never become an *Error; they are logged and swallowed where they
// occur.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a new *Error.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a new *Error around a cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code from an error chain, or "" when the error is not
// an agent error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
