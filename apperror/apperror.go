// Package apperror defines the errors the HTTP layer shows to clients. Each
// carries a status code and a message that is safe to expose.
//
// Never hand raw database or infrastructure errors to a client. Wrap them with
// NewInternal so the cause is logged and the client sees a generic message.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
)

// AppError is a client-facing error.
type AppError struct {
	// Code is the HTTP status code.
	Code int `json:"-"`

	// Type is a machine-readable classifier such as "not_found".
	Type string `json:"type"`

	// Message is safe to show to the client.
	Message string `json:"message"`

	// Fields maps request fields to their validation messages.
	Fields map[string]string `json:"fields,omitempty"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Internal
}

// WithInternal records cause for logging and returns e.
func (e *AppError) WithInternal(cause error) *AppError {
	e.Internal = cause
	return e
}

const (
	TypeValidation      = "validation_error"
	TypeUnauthenticated = "unauthenticated"
	TypeForbidden       = "forbidden"
	TypeNotFound        = "not_found"
	TypeConflict        = "conflict"
	TypeInvalidToken    = "invalid_or_expired_token"
	TypePayment         = "payment_rejected"
	TypeTooManyRequests = "too_many_requests"
	TypeInternal        = "internal_error"
)

func NewValidation(message string, fields map[string]string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeValidation,
		Message: message,
		Fields:  fields,
	}
}

// FromValidation turns per-field validation failures into a validation error.
func FromValidation(errs validation.Errors) *AppError {
	fields := make(map[string]string, len(errs))
	for field, err := range errs {
		if err != nil {
			fields[field] = err.Error()
		}
	}
	return NewValidation("Invalid request", fields)
}

func NewUnauthenticated(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeUnauthenticated,
		Message: message,
	}
}

func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeForbidden,
		Message: message,
	}
}

func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    TypeNotFound,
		Message: message,
	}
}

// NewConflict reports a request that clashes with existing state. Clients
// of this API expect 400 for duplicates, not 409.
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeConflict,
		Message: message,
	}
}

func NewInvalidToken(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeInvalidToken,
		Message: message,
	}
}

// NewPaymentRejected reports a payment request or callback that was refused.
func NewPaymentRejected(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Type:    TypePayment,
		Message: message,
	}
}

func NewTooManyRequests() *AppError {
	return &AppError{
		Code:    http.StatusTooManyRequests,
		Type:    TypeTooManyRequests,
		Message: "Too many requests, try again later",
	}
}

// NewInternal creates a 500 error. The client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// SafeMessage returns the client-safe message of err.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// SafeCode returns the status code of err, or 500 for anything that is not an AppError.
func SafeCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
