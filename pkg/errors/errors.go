package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// Domain error codes. Quota and conflict are expected control flow and
// carry structured details the caller can act on; the rest surface as
// generic failures without leaking internals.
const (
	CodeQuotaExceeded          = "QUOTA_EXCEEDED"
	CodeSessionConflict        = "SESSION_CONFLICT"
	CodeNotFound               = "NOT_FOUND"
	CodeExternalServiceFailure = "EXTERNAL_SERVICE_FAILURE"
	CodePersistenceFailure     = "PERSISTENCE_FAILURE"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewForbiddenError creates a 403 Forbidden error
func NewForbiddenError(code string, message string) *AppError {
	return NewError(http.StatusForbidden, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(code string, message string) *AppError {
	return NewError(http.StatusConflict, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// NewQuotaExceededError builds the denial for a blocked session start.
// Details carry reason, limits and wait time so the client can render
// why the start was denied and when retry is possible.
func NewQuotaExceededError(message string, details any) *AppError {
	return NewError(http.StatusTooManyRequests, CodeQuotaExceeded, message).WithDetails(details)
}

// NewNotFoundSessionError is the 404 for an unknown session id.
func NewNotFoundSessionError(sessionID string) *AppError {
	return NewNotFoundError(CodeNotFound, fmt.Sprintf("session %s not found", sessionID))
}

// NewExternalServiceError wraps a redaction or upstream-AI failure.
func NewExternalServiceError(service string, err error) *AppError {
	return NewError(
		http.StatusBadGateway,
		CodeExternalServiceFailure,
		fmt.Sprintf("%s call failed", service),
	).WithDetails(map[string]string{"service": service, "cause": err.Error()})
}

// NewPersistenceError wraps a store failure; fatal to the current request.
func NewPersistenceError(err error) *AppError {
	return NewError(http.StatusInternalServerError, CodePersistenceFailure, "persistence failure").
		WithDetails(map[string]string{"cause": err.Error()})
}

// FromError converts a standard error to an AppError.
// If the error is already an AppError, it is returned as-is.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalServerError(
		"INTERNAL_ERROR",
		fmt.Sprintf("An unexpected error occurred: %s", err.Error()),
	)
}

// Is checks if the target error is of type AppError
func Is(err error, target *AppError) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Code == target.Code
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
