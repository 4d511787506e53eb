package utils

import (
	"fmt"
)

// AppError is an error ready to be rendered to an API client
type AppError struct {
	Code    int    // HTTP status code
	Kind    string // machine-readable category, e.g. "auth"
	Message string // user-facing, already localized
	Err     error  // underlying error, never rendered
}

// NewAppError creates a new AppError
func NewAppError(code int, kind, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors
func BadRequestError(message string, err error) *AppError {
	return NewAppError(400, "invalid", message, err)
}

func UnauthorizedError(message string, err error) *AppError {
	return NewAppError(401, "unauthorized", message, err)
}

func NotFoundError(message string, err error) *AppError {
	return NewAppError(404, "not_found", message, err)
}

func InternalServerError(message string, err error) *AppError {
	return NewAppError(500, "unknown", message, err)
}
