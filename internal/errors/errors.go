package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeAcquisition ErrorType = "acquisition"
	ErrorTypeComputation ErrorType = "computation"
	ErrorTypeExport      ErrorType = "export"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeInternal    ErrorType = "internal"
)

// Acquisition failure reasons
const (
	ReasonTooLarge         = "too_large"
	ReasonUnsupportedType  = "unsupported_type"
	ReasonUnreadable       = "unreadable"
	ReasonBadDimensions    = "invalid_dimensions"
	ReasonPermissionDenied = "permission_denied"
	ReasonUnsupported      = "unsupported_environment"
	ReasonNotStarted       = "not_started"
	ReasonCaptureFailed    = "capture_failed"
	ReasonFetchFailed      = "fetch_failed"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewAcquisitionError creates an image source failure with a machine readable reason
func NewAcquisitionError(reason, message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeAcquisition,
		Message:    message,
		Reason:     reason,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewComputationError creates a metrics engine failure
func NewComputationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeComputation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewExportError creates an export failure
func NewExportError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExport,
		Message:    message,
		StatusCode: http.StatusConflict,
		Cause:      cause,
	}
}

// NewConflictError creates an error for operations invalid in the current state
func NewConflictError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
		Cause:      cause,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Cause:      cause,
	}
}

// NewRateLimitedError creates an error for throttled requests
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimited,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := As(err); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
