package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// Upstream gateways (aggregator / payment rail)
	ErrCodeUpstreamRejected ErrorCode = "UPSTREAM_REJECTED"
	ErrCodeNetworkFailure   ErrorCode = "NETWORK_FAILURE"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeNoAccounts       ErrorCode = "NO_ACCOUNTS"

	// Linking
	ErrCodeAlreadyLinked  ErrorCode = "ALREADY_LINKED"
	ErrCodeLinkInProgress ErrorCode = "LINK_IN_PROGRESS"

	// Local persistence backend
	ErrCodePersist ErrorCode = "PERSIST_ERROR"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

// UpstreamRejected reports a non-success response from the aggregator or the
// payment rail. The raw upstream detail stays in the cause; the message shown
// to callers never includes it.
func UpstreamRejected(service string, cause error) *AppError {
	return Wrap(ErrCodeUpstreamRejected, fmt.Sprintf("%s rejected the request", service), cause)
}

func NetworkFailure(service string, cause error) *AppError {
	return Wrap(ErrCodeNetworkFailure, fmt.Sprintf("could not reach %s", service), cause)
}

func Timeout(service string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s did not respond in time", service))
}

func NoAccounts() *AppError {
	return New(ErrCodeNoAccounts, "Access grant covers no bank accounts")
}

func AlreadyLinked(accountID string) *AppError {
	return New(ErrCodeAlreadyLinked, "Bank account is already linked").
		WithDetails(map[string]string{"accountId": accountID})
}

func LinkInProgress() *AppError {
	return New(ErrCodeLinkInProgress, "Another linking attempt is already running")
}

func Persist(cause error) *AppError {
	return Wrap(ErrCodePersist, "Bank account registration failed", cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
