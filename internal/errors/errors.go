// Package errors provides code-tagged errors for the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an error for boundary handling: silent no-op,
// backoff, or user notification.
type ErrorCode string

const (
	// ErrUnauthorized means no session or access token. Never retried,
	// surfaced once.
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrQuotaExceeded is a remote rate-limit signal. Triggers backoff.
	ErrQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// ErrNotFound means an expected remote document is absent. Treated as
	// "no remote data yet" by sync paths, not as a failure.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrConflict means the operation lost to concurrent state, such as
	// starting a timer for a category that already has one.
	ErrConflict ErrorCode = "CONFLICT"

	// ErrNetwork covers transport failures. Retried where a retry executor
	// wraps the call.
	ErrNetwork ErrorCode = "NETWORK_ERROR"

	// ErrCreateFailed means a remote create call returned no object id.
	// Fatal for that operation.
	ErrCreateFailed ErrorCode = "CREATE_FAILED"

	// ErrValidation means the request payload was malformed.
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// ErrDatabase covers local store failures.
	ErrDatabase ErrorCode = "DATABASE_ERROR"

	// ErrSyncFailed is the generic wrapper for a failed sync attempt.
	ErrSyncFailed ErrorCode = "SYNC_FAILED"
)

// AppError carries an ErrorCode alongside a message and optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed. Errors
// without a code report ErrNetwork, the taxonomy's generic bucket.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrNetwork
}

// IsRetryable reports whether a retry has any chance of succeeding.
// Permanent failures (missing auth, conflicts, malformed input, absent
// documents) are excluded; everything else, including unclassified errors,
// is considered transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrUnauthorized, ErrConflict, ErrValidation, ErrNotFound, ErrCreateFailed:
		return false
	default:
		return true
	}
}
