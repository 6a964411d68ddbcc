// Package api provides error handling utilities for HTTP APIs
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/types"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	Success bool         `json:"success"`
}

// ErrorDetails contains detailed error information
type ErrorDetails struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// RespondWithError sends a structured error response
func RespondWithError(c *gin.Context, err error) {
	// Extract request ID if available
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}

	// Check if it's an AppError
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		// Use the structured error information
		response := ErrorResponse{
			Success: false,
			Error: ErrorDetails{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				Details:   appErr.Details,
				Context:   appErr.Context,
				RequestID: requestID,
			},
		}

		// Log the error with appropriate severity
		logError(appErr, requestID)

		// Send response
		c.JSON(appErr.HTTPStatus, response)
		return
	}

	// Handle generic errors
	httpStatus := http.StatusInternalServerError
	errorCode := types.ErrorCodeInternal

	// Try to determine error type from error message
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "not found"):
		httpStatus = http.StatusNotFound
		errorCode = types.ErrorCodeNotFound
	case strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "required"):
		httpStatus = http.StatusBadRequest
		errorCode = types.ErrorCodeValidation
	case strings.Contains(errMsg, "timeout"):
		httpStatus = http.StatusGatewayTimeout
		errorCode = types.ErrorCodeTimeout
	case strings.Contains(errMsg, "cancelled") || strings.Contains(errMsg, "canceled"):
		httpStatus = http.StatusRequestTimeout
		errorCode = types.ErrorCodeCancelled
	}

	// Create response for generic error
	response := ErrorResponse{
		Success: false,
		Error: ErrorDetails{
			Code:      string(errorCode),
			Message:   errMsg,
			RequestID: requestID,
		},
	}

	logger.Error("Unstructured API error (request %s): %v", requestID, err)

	// Send response
	c.JSON(httpStatus, response)
}

// RespondWithAppError sends a structured AppError response
func RespondWithAppError(c *gin.Context, code types.ErrorCode, message string, httpStatus int) {
	appErr := types.NewAppError(code, message, httpStatus)
	RespondWithError(c, appErr)
}

// RespondWithValidationError sends a validation error response
func RespondWithValidationError(c *gin.Context, message string, details ...string) {
	appErr := types.NewValidationError(message, details...)
	RespondWithError(c, appErr)
}

// RespondWithNotFound sends a not found error response
func RespondWithNotFound(c *gin.Context, resource string, id string) {
	appErr := types.NewNotFoundError(resource, id)
	RespondWithError(c, appErr)
}

// RespondWithInternalError sends an internal error response
func RespondWithInternalError(c *gin.Context, message string, cause error) {
	appErr := types.NewInternalError(message, cause)
	RespondWithError(c, appErr)
}

// logError logs the error with appropriate severity
func logError(err *types.AppError, requestID string) {
	detail := err.Message
	if err.Details != "" {
		detail += ": " + err.Details
	}
	if err.Cause != nil {
		detail += " (cause: " + err.Cause.Error() + ")"
	}

	switch err.Severity {
	case types.SeverityWarning:
		logger.Warn("API error %s (request %s): %s", err.Code, requestID, detail)
	case types.SeverityInfo:
		logger.Info("API error %s (request %s): %s", err.Code, requestID, detail)
	default:
		logger.Error("API error %s (request %s): %s", err.Code, requestID, detail)
	}
}

// ErrorMiddleware is a middleware that recovers from panics and handles errors
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				// Convert panic to error
				var err error
				switch v := r.(type) {
				case error:
					err = v
				case string:
					err = errors.New(v)
				default:
					err = errors.New("unknown panic")
				}

				// Create a critical error
				appErr := types.NewInternalError("panic recovered", err)
				appErr.Severity = types.SeverityCritical

				logger.Error("Panic recovered on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)

				// Respond with error
				RespondWithError(c, appErr)
				c.Abort()
			}
		}()

		c.Next()
	}
}
