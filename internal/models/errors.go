package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the remote port, the mutation engine and the
// reference server.
const (
	CodeValidationRejected = "VALIDATION_REJECTED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNetworkUnavailable = "NETWORK_UNAVAILABLE"
	CodeServerFault        = "SERVER_FAULT"
	CodeNotFound           = "NOT_FOUND"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a classified application error
type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so sentinels below work
// with errors.Is through wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrValidationRejected = &AppError{Code: CodeValidationRejected, Message: "request rejected"}
	ErrUnauthorized       = &AppError{Code: CodeUnauthorized, Message: "session expired"}
	ErrNetworkUnavailable = &AppError{Code: CodeNetworkUnavailable, Message: "network unavailable"}
	ErrServerFault        = &AppError{Code: CodeServerFault, Message: "server error"}
	ErrNotFound           = &AppError{Code: CodeNotFound, Message: "not found"}
)

// Predefined error constructors
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidationRejected,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// NewForbiddenError is returned when the caller may not touch another user's
// content. Clients classify it as a rejected request.
func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeValidationRejected,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
		Status:  http.StatusNotFound,
	}
}

func NewNetworkError(err error) *AppError {
	return &AppError{
		Code:    CodeNetworkUnavailable,
		Message: "network unavailable",
		Err:     err,
	}
}

func NewServerFault(status int, message string) *AppError {
	if message == "" {
		message = "server error"
	}
	return &AppError{
		Code:    CodeServerFault,
		Message: message,
		Status:  status,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeServerFault,
		Message: "Internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// FromStatus classifies an HTTP status and server message into an AppError.
// It returns nil for 2xx and 3xx statuses.
func FromStatus(status int, message string) *AppError {
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized:
		if message == "" {
			message = "session expired"
		}
		return NewUnauthorizedError(message)
	case status == http.StatusNotFound:
		if message == "" {
			message = "not found"
		}
		return &AppError{Code: CodeNotFound, Message: message, Status: status}
	case status < 500:
		if message == "" {
			message = http.StatusText(status)
		}
		return &AppError{Code: CodeValidationRejected, Message: message, Status: status}
	default:
		return NewServerFault(status, message)
	}
}

// CodeOf returns the AppError code found in err's chain, or "" if none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsUnauthorized reports whether err means the session has ended.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// StatusOf maps an error to the HTTP status the server should answer with.
func StatusOf(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	if appErr.Status != 0 {
		return appErr.Status
	}
	switch appErr.Code {
	case CodeValidationRejected:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
