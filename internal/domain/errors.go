package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"       // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized"  // Authentication required
	EFORBIDDEN    = "forbidden"     // Permission denied
	ENOTFOUND     = "not_found"     // Resource not found
	ECONFLICT     = "conflict"      // Resource conflict (e.g., duplicate)
	ETOOLARGE     = "too_large"     // Request entity too large
	ERATELIMIT    = "rate_limit"    // Rate limit exceeded
	EINTERNAL     = "internal"      // Internal server error
	EUNAVAILABLE  = "unavailable"   // Backing store unreachable

	// Quota engine codes
	EQUOTAEXCEEDED    = "quota_exceeded"     // Daily budget used up
	EQUOTACHECKFAILED = "quota_check_failed" // Store fault while checking
	EQUOTAFETCHFAILED = "quota_fetch_failed" // Store fault while reading a snapshot
	EINVALIDPLAN      = "invalid_plan"       // Plan tier outside the closed set
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "quota.increment_usage")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case EINTERNAL, EUNAVAILABLE, EQUOTACHECKFAILED, EQUOTAFETCHFAILED:
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// QuotaExceeded creates the legitimate-deny error returned when a user has
// used their daily budget. The usage figures are attached as a *QuotaLimit.
func QuotaExceeded(op string, currentUsage, dailyLimit int64) *Error {
	return &Error{
		Code:    EQUOTAEXCEEDED,
		Op:      op,
		Message: fmt.Sprintf("Daily limit of %d operations reached. Upgrade your plan or wait for the daily reset.", dailyLimit),
		Err:     &QuotaLimit{CurrentUsage: currentUsage, DailyLimit: dailyLimit},
	}
}

// QuotaCheckFailed creates the error for a store fault during a check.
// Callers must not treat it as permission to proceed.
func QuotaCheckFailed(err error, op string) *Error {
	return &Error{
		Code:    EQUOTACHECKFAILED,
		Op:      op,
		Message: "unable to verify quota",
		Err:     err,
	}
}

// QuotaFetchFailed creates the error for a store fault during a snapshot read.
func QuotaFetchFailed(err error, op string) *Error {
	return &Error{
		Code:    EQUOTAFETCHFAILED,
		Op:      op,
		Message: "unable to load quota",
		Err:     err,
	}
}

// InvalidPlan creates the validation error for a plan outside the closed set.
func InvalidPlan(op, plan string) *Error {
	return &Error{
		Code:    EINVALIDPLAN,
		Op:      op,
		Message: fmt.Sprintf("unknown plan %q: must be one of free, premium, pro", plan),
	}
}

// QuotaLimit carries the usage figures of a QuotaExceeded error for display.
type QuotaLimit struct {
	CurrentUsage int64
	DailyLimit   int64
}

func (q *QuotaLimit) Error() string {
	return fmt.Sprintf("%d of %d daily operations used", q.CurrentUsage, q.DailyLimit)
}

// QuotaLimitFrom extracts the usage figures from a QuotaExceeded error.
func QuotaLimitFrom(err error) (*QuotaLimit, bool) {
	var q *QuotaLimit
	if errors.As(err, &q) {
		return q, true
	}
	return nil, false
}

// IsQuotaExceeded reports whether err is a legitimate quota deny.
func IsQuotaExceeded(err error) bool {
	return ErrorCode(err) == EQUOTAEXCEEDED
}

// ValidationError represents field-level validation errors.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed", e.Op)
}

// NewValidationError creates a new validation error with the first field error.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{
		Op: op,
		Fields: map[string]string{
			field: message,
		},
	}
}
