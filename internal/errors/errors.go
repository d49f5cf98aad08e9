package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Memora client error code.
type ErrorCode string

const (
	ErrUnauthenticated ErrorCode = "UNAUTHENTICATED" // 401
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound        ErrorCode = "NOT_FOUND"       // 404
	ErrBackend         ErrorCode = "BACKEND_ERROR"   // 502
	ErrUnknownStatus   ErrorCode = "UNKNOWN_STATUS"  // 500 (backend contract violation)
	ErrInternal        ErrorCode = "INTERNAL"        // 500
)

// MemoraError represents a structured error with code, status, and details.
type MemoraError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *MemoraError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewUnauthenticated creates a 401 error. Callers are expected to trigger
// re-authentication when they see this code.
func NewUnauthenticated() *MemoraError {
	return &MemoraError{
		Code:    ErrUnauthenticated,
		Status:  401,
		Message: "authentication required",
	}
}

// NewInvalidRequest creates a 400 error for invalid parameters.
func NewInvalidRequest(msg string) *MemoraError {
	return &MemoraError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing backend resource.
func NewNotFound(resource string) *MemoraError {
	return &MemoraError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", resource),
		Details: map[string]any{"resource": resource},
	}
}

// NewBackend creates a 502 error for a failed backend call.
// statusCode is the HTTP status the backend returned (0 for transport errors).
func NewBackend(statusCode int, detail string) *MemoraError {
	msg := "backend request failed"
	if detail != "" {
		msg = fmt.Sprintf("backend request failed: %s", detail)
	}
	return &MemoraError{
		Code:    ErrBackend,
		Status:  502,
		Message: msg,
		Details: map[string]any{"backend_status": statusCode},
	}
}

// NewUnknownStatus creates an error for a persona status outside the closed
// set. Unknown statuses are a backend contract violation, never tolerated
// silently.
func NewUnknownStatus(status string) *MemoraError {
	return &MemoraError{
		Code:    ErrUnknownStatus,
		Status:  500,
		Message: fmt.Sprintf("unknown persona status %q", status),
		Details: map[string]any{"status": status},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for
// logging so it never leaks to user-facing surfaces.
func NewInternal(err error) *MemoraError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &MemoraError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or any error it wraps) is a MemoraError with the
// given code.
func Is(err error, code ErrorCode) bool {
	var mErr *MemoraError
	if stderrors.As(err, &mErr) {
		return mErr.Code == code
	}
	return false
}
