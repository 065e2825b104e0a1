package apperrors

import (
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryAuth       ErrorCategory = "auth"
	CategoryTransport  ErrorCategory = "transport"
	CategoryServer     ErrorCategory = "server"
	CategoryClient     ErrorCategory = "client"
)

// Common error codes
const (
	// Validation errors (no network call made)
	CodeValidationError = "VALIDATION_ERROR"
	CodeJobInProgress   = "JOB_IN_PROGRESS"

	// Auth
	CodeUnauthorized = "UNAUTHORIZED"
	CodeTokenExpired = "TOKEN_EXPIRED"

	// Job lifecycle
	CodeProcessNotFound = "PROCESS_NOT_FOUND"
	CodeProcessExpired  = "PROCESS_EXPIRED"
	CodeNotReady        = "NOT_READY"
	CodeFileTooLarge    = "FILE_TOO_LARGE"

	// Transport
	CodeTimeout        = "TIMEOUT"
	CodeConnectionLost = "CONNECTION_LOST"

	// Server / misc
	CodeInternalError = "INTERNAL_ERROR"
	CodeExportError   = "EXPORT_ERROR"
	CodeBalanceError  = "BALANCE_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"-"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Validation error constructors

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryValidation, 0)
}

func JobInProgress() *AppError {
	return New(CodeJobInProgress, "a translation is already in progress", CategoryValidation, 0)
}

// Auth error constructors

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, CategoryAuth, http.StatusUnauthorized)
}

func TokenExpired() *AppError {
	return New(CodeTokenExpired, "access token has expired", CategoryAuth, http.StatusUnauthorized)
}

// Job lifecycle error constructors

func ProcessNotFound(processID string) *AppError {
	return New(CodeProcessNotFound, fmt.Sprintf("process %s not found", processID), CategoryClient, http.StatusNotFound)
}

// ProcessExpired covers a 404 on a previously valid process: the backend has
// dropped the job and polling it again can never succeed.
func ProcessExpired(processID string) *AppError {
	return New(CodeProcessExpired, fmt.Sprintf("process %s has expired on the server", processID), CategoryClient, http.StatusNotFound)
}

// NotReady covers the benign race where a result fetch lands before the
// backend has finished writing the result. Callers resume polling.
func NotReady(processID string) *AppError {
	return New(CodeNotReady, fmt.Sprintf("process %s is not complete yet", processID), CategoryClient, http.StatusBadRequest)
}

func FileTooLarge(limitMB int) *AppError {
	return New(CodeFileTooLarge, fmt.Sprintf("file exceeds the %d MB upload limit", limitMB), CategoryValidation, http.StatusRequestEntityTooLarge)
}

// Transport error constructors

func Timeout(operation string) *AppError {
	return New(CodeTimeout, fmt.Sprintf("%s timed out; the job may still be processing server-side", operation), CategoryTransport, http.StatusGatewayTimeout)
}

func ConnectionLost(message string) *AppError {
	return New(CodeConnectionLost, message, CategoryTransport, 0)
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func ExportError(message string) *AppError {
	return New(CodeExportError, message, CategoryServer, http.StatusInternalServerError)
}

func BalanceError(message string) *AppError {
	return New(CodeBalanceError, message, CategoryServer, http.StatusInternalServerError)
}

// FromStatus maps an HTTP status code and a server-provided message to an
// AppError. An empty message falls back to a generic one per status.
func FromStatus(status int, message string) *AppError {
	switch {
	case status == http.StatusUnauthorized:
		if message == "" {
			message = "authentication required"
		}
		return Unauthorized(message)
	case status == http.StatusNotFound:
		if message == "" {
			message = "resource not found"
		}
		return New(CodeProcessNotFound, message, CategoryClient, status)
	case status == http.StatusRequestEntityTooLarge:
		return New(CodeFileTooLarge, "file is too large for the server to accept", CategoryValidation, status)
	case status == http.StatusBadRequest:
		if message == "" {
			message = "invalid request"
		}
		return New(CodeNotReady, message, CategoryClient, status)
	case status >= 500:
		if message == "" {
			message = fmt.Sprintf("server error (%d)", status)
		}
		return New(CodeInternalError, message, CategoryServer, status)
	default:
		if message == "" {
			message = fmt.Sprintf("unexpected status %d", status)
		}
		return New(CodeInternalError, message, CategoryServer, status)
	}
}

// IsAuthError returns true if the error is a 401-class auth failure
func IsAuthError(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryAuth
}

// IsTransient returns true if the error represents a condition that a later
// attempt may survive: transport failures and 5xx-class server errors.
func IsTransient(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	if appErr.Category == CategoryTransport {
		return true
	}
	return appErr.Category == CategoryServer && appErr.HTTPStatus >= 500
}

// IsNotReady returns true for the benign "result not complete yet" condition
func IsNotReady(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Code == CodeNotReady
}

// IsTerminalStatus returns true for errors that must stop polling outright
func IsTerminalStatus(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Code == CodeProcessExpired || appErr.Code == CodeProcessNotFound
}

// RetryableHTTPStatus returns true if the HTTP status code should be treated
// as a transient gateway-style failure rather than a hard error.
func RetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
