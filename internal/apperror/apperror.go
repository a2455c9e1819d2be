// Package apperror defines the domain errors shared by every layer.
//
// Services return these; handlers translate them into HTTP responses with
// errors.Is. The sentinel values are what callers match on, the AppError
// carries the human-readable message shown back to the user.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

type AppError struct {
	Err     error    // actual error
	Message string   // Human-readable error message
	Field   string   // Optional: field causing the error
	Details []string // Optional: every individual failure when there is more than one
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Messages returns each failure reason. A single-message error returns a
// one-element slice so callers can always range over the result.
func (e *AppError) Messages() []string {
	if len(e.Details) > 0 {
		return e.Details
	}
	return []string{e.Message}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// ValidationFailures bundles several validation messages into one error.
// Used when a form or password policy fails on more than one rule at once.
func ValidationFailures(messages ...string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: strings.Join(messages, " "),
		Details: messages,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized returns an AppError for failed authentication. The message is
// shown to the user as-is, so it must never say which part was wrong.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// MessagesOf extracts the user-facing messages from err. Errors that are not
// an *AppError yield nil, so internal details never reach a rendered page.
func MessagesOf(err error) []string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Messages()
	}
	return nil
}
