package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Governor error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrInvalidConfig  ErrorCode = "INVALID_CONFIG"  // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrFileNotFound   ErrorCode = "FILE_NOT_FOUND"  // 404
	ErrClaimNotReady  ErrorCode = "CLAIM_NOT_READY" // 412
	ErrCancelled      ErrorCode = "CANCELLED"       // 499
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// GovernorError represents a structured error with code, status, and details.
type GovernorError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *GovernorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *GovernorError {
	return &GovernorError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidConfig creates a 400 error for configuration misuse: invalid
// budget/reserve combinations, unknown intents, strategies or variants.
// Configuration errors are never silently defaulted.
func NewInvalidConfig(field, msg string) *GovernorError {
	return &GovernorError{
		Code:    ErrInvalidConfig,
		Status:  400,
		Message: fmt.Sprintf("%s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewNotFound creates a 404 error for when a plan cannot be found.
func NewNotFound(identifier string) *GovernorError {
	return &GovernorError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("plan not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for when an import file does not exist.
func NewFileNotFound(path string) *GovernorError {
	return &GovernorError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewClaimNotReady creates the strict-claim-mode failure. It is deliberately a
// distinct code so CI callers can tell "the data does not support the claim"
// apart from operational failures.
func NewClaimNotReady(failingGates, underSampledIntents []string) *GovernorError {
	if failingGates == nil {
		failingGates = []string{}
	}
	if underSampledIntents == nil {
		underSampledIntents = []string{}
	}
	return &GovernorError{
		Code:    ErrClaimNotReady,
		Status:  412,
		Message: fmt.Sprintf("claim not ready: %d failing gate(s) %v", len(failingGates), failingGates),
		Details: map[string]any{
			"failing_gates":         failingGates,
			"under_sampled_intents": underSampledIntents,
		},
	}
}

// NewCancelled creates a 499 error for an operation stopped by its context.
func NewCancelled(operation string) *GovernorError {
	return &GovernorError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *GovernorError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &GovernorError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a GovernorError with the given code.
func Is(err error, code ErrorCode) bool {
	var gErr *GovernorError
	if stderrors.As(err, &gErr) {
		return gErr.Code == code
	}
	return false
}

// ClaimFailure extracts the failing gates and under-sampled intents from a
// CLAIM_NOT_READY error. ok is false for any other error.
func ClaimFailure(err error) (failingGates, underSampledIntents []string, ok bool) {
	var gErr *GovernorError
	if !stderrors.As(err, &gErr) || gErr.Code != ErrClaimNotReady {
		return nil, nil, false
	}
	failingGates, _ = gErr.Details["failing_gates"].([]string)
	underSampledIntents, _ = gErr.Details["under_sampled_intents"].([]string)
	return failingGates, underSampledIntents, true
}
