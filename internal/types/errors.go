// Package types holds shapes shared across module boundaries: the
// structured application error, service summaries, and the request and
// result types exchanged with the external render and AI backends.
package types

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies an error class in API responses
type ErrorCode string

const (
	// General errors
	ErrorCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeConflict          ErrorCode = "CONFLICT"
	ErrorCodeTimeout           ErrorCode = "TIMEOUT"
	ErrorCodeCancelled         ErrorCode = "CANCELLED"
	ErrorCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// Import errors
	ErrorCodeImportJobNotFound   ErrorCode = "IMPORT_JOB_NOT_FOUND"
	ErrorCodeImportItemNotFound  ErrorCode = "IMPORT_ITEM_NOT_FOUND"
	ErrorCodeImportBadTransition ErrorCode = "IMPORT_BAD_TRANSITION"
)

// ErrorSeverity indicates how loudly an error should be logged
type ErrorSeverity string

const (
	SeverityInfo     ErrorSeverity = "info"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is a structured error carrying the code, HTTP status and
// context the API layer renders. Handlers build these; everything else
// returns plain wrapped errors.
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Severity   ErrorSeverity          `json:"severity"`
	HTTPStatus int                    `json:"http_status"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`

	Cause       error  `json:"-"`
	CauseString string `json:"cause,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Severity:   SeverityError,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewAppErrorWithCause creates an error with an underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, httpStatus int, cause error) *AppError {
	err := NewAppError(code, message, httpStatus)
	err.Cause = cause
	if cause != nil {
		err.CauseString = cause.Error()
	}
	return err
}

// NewValidationError creates a validation error
func NewValidationError(message string, details ...string) *AppError {
	err := NewAppError(ErrorCodeValidation, message, http.StatusBadRequest)
	if len(details) > 0 {
		err.Details = details[0]
	}
	err.Severity = SeverityWarning
	return err
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *AppError {
	return NewAppError(
		ErrorCodeNotFound,
		fmt.Sprintf("%s not found", resource),
		http.StatusNotFound,
	).WithContext("resource", resource).WithContext("id", id)
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	err := NewAppErrorWithCause(ErrorCodeInternal, message, http.StatusInternalServerError, cause)
	err.Severity = SeverityCritical
	return err
}
