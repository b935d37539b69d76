package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrMissingEmail           = errors.New("missing email in auth token")
	ErrAuthorizationDenied    = errors.New("authorization denied")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidSecret          = errors.New("invalid migration secret")
	ErrValidation             = errors.New("validation error")
)

// AppError is a typed failure that callers can match against the sentinels above.
type AppError struct {
	Err     error
	Message string
	Field   string
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func AuthenticationRequired() *AppError {
	return &AppError{Err: ErrAuthenticationRequired, Message: "authentication required"}
}

func MissingEmail() *AppError {
	return &AppError{Err: ErrMissingEmail, Message: "missing email in auth token"}
}

func AuthorizationDenied(message string) *AppError {
	return &AppError{Err: ErrAuthorizationDenied, Message: message}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func Conflict(resource, key string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict on %s", resource, key),
	}
}

func InvalidSecret() *AppError {
	return &AppError{Err: ErrInvalidSecret, Message: "invalid migration secret"}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// ServiceError wraps an unexpected failure with an "operation.reason" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

// Wrap returns cause untouched when it already carries a typed failure,
// otherwise it is wrapped in a ServiceError coded operation.reason.
func Wrap(operation, reason string, cause error) error {
	var typed *AppError
	if errors.As(cause, &typed) {
		return cause
	}
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IsTyped reports whether err carries one of the package's typed failures.
func IsTyped(err error) bool {
	var typed *AppError
	return errors.As(err, &typed)
}
