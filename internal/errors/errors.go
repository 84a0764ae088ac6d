// Package errors defines the error taxonomy shared by the session, upload and
// engine packages. Every failure the engine can recover from carries a Kind so
// callers branch on the tag instead of matching message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a recoverable failure.
type Kind string

const (
	// KindInvalidInput is caught before any I/O happens.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindUnauthorized is a 401 from the server.
	KindUnauthorized Kind = "UNAUTHORIZED"
	// KindServer is any other non-2xx status.
	KindServer Kind = "SERVER_ERROR"
	// KindConnection means no response was received at all.
	KindConnection Kind = "CONNECTION_ERROR"
	// KindValidation is a 2xx transport with an application-level rejection.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindNotFound is a local file that is missing or unreadable.
	KindNotFound Kind = "NOT_FOUND"
	// KindStorage is a failure persisting local data.
	KindStorage Kind = "STORAGE_ERROR"
	// KindBusy means the same operation is already running.
	KindBusy Kind = "BUSY"
)

// AppError represents an application-level error with a kind and optional cause.
type AppError struct {
	Kind    Kind
	Message string
	// Status is the HTTP status code, zero when no response was received.
	Status int
	Cause  error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError.
func New(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// WithStatus creates an AppError that records the HTTP status code.
func WithStatus(kind Kind, status int, message string) *AppError {
	return &AppError{Kind: kind, Status: status, Message: message}
}

// KindOf returns the Kind of the first AppError in err's chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human-readable message of the first AppError in err's
// chain, falling back to err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
