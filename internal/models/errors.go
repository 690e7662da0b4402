package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents validation errors (400)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeAuthentication represents authentication errors (401)
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeInsufficientCredits represents a rejected charge (402)
	ErrorTypeInsufficientCredits ErrorType = "insufficient_credits"
	// ErrorTypeNotFound represents resource not found errors (404)
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeInvalidState represents an illegal lifecycle transition (400)
	ErrorTypeInvalidState ErrorType = "invalid_state"
	// ErrorTypeProviderTransient represents a retryable provider fault (502)
	ErrorTypeProviderTransient ErrorType = "provider_transient"
	// ErrorTypeProviderFatal represents an explicit provider-reported failure
	ErrorTypeProviderFatal ErrorType = "provider_fatal"
	// ErrorTypeInternal represents internal server errors (500)
	ErrorTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitzero"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`

	// Populated on insufficient-credit errors so callers can surface
	// "required vs available" without another balance read.
	Required  int64 `json:"required,omitzero"`
	Available int64 `json:"available,omitzero"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetStatusCode returns the HTTP status code for the error
func (e *AppError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation, ErrorTypeInvalidState:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeInsufficientCredits:
		return http.StatusPaymentRequired
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProviderTransient, ErrorTypeProviderFatal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewInsufficientCreditsError creates the 402-equivalent charge rejection.
// From the caller's point of view a lost atomic debit race is the same
// condition, so the ledger consistency path funnels here too.
func NewInsufficientCreditsError(required, available int64) *AppError {
	return &AppError{
		Type:       ErrorTypeInsufficientCredits,
		Message:    "insufficient credits",
		Code:       "INSUFFICIENT_CREDITS",
		StatusCode: http.StatusPaymentRequired,
		Retryable:  false,
		Required:   required,
		Available:  available,
	}
}

// NewInvalidStateError creates an illegal-transition error
func NewInvalidStateError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInvalidState,
		Message:    message,
		Code:       "INVALID_STATE",
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
	}
}

// NewNotFoundError creates a resource-not-found error
func NewNotFoundError(resource, id string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s %s not found", resource, id),
		StatusCode: http.StatusNotFound,
		Retryable:  false,
	}
}

// NewProviderTransientError wraps a network-level or 5xx provider fault.
// The poller reports these as "still processing"; they never fail a
// generation.
func NewProviderTransientError(provider string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderTransient,
		Message:    fmt.Sprintf("provider %s temporarily unavailable", provider),
		Code:       fmt.Sprintf("PROVIDER_%s_TRANSIENT", provider),
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewProviderFatalError wraps an explicit failure signal from a provider
func NewProviderFatalError(provider, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderFatal,
		Message:    fmt.Sprintf("provider %s reported failure: %s", provider, message),
		Code:       fmt.Sprintf("PROVIDER_%s_FAILED", provider),
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// IsErrorType reports whether err is an AppError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// SanitizeError sanitizes an error for external consumption
func SanitizeError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:       appErr.Type,
			Message:    appErr.Message,
			Code:       appErr.Code,
			StatusCode: appErr.GetStatusCode(),
			Retryable:  appErr.Retryable,
			Required:   appErr.Required,
			Available:  appErr.Available,
		}
	}

	return NewInternalError("an unexpected error occurred", err)
}
