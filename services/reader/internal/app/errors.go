package app

import (
	"errors"

	"pdfreader/pkg/usage"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrThreadNotFound   = errors.New("thread not found")
	ErrShareNotFound    = errors.New("share link not found")
	ErrForbidden        = errors.New("forbidden")
	// ErrDocumentExists is returned when an upload is registered twice.
	ErrDocumentExists = errors.New("document already registered")
	// ErrSharePassword is returned when a protected link is opened with a
	// missing or wrong password.
	ErrSharePassword = errors.New("share password required")
	ErrEmptyMessage  = errors.New("message content required")
	// ErrOutlineUnavailable is returned when extraction could not be queued.
	ErrOutlineUnavailable = errors.New("outline service unavailable")
)

// InputError is a client mistake; Message is safe to show.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &InputError{Message: msg}
}

// QuotaError is returned when a plan limit denies an action.
type QuotaError struct {
	Decision usage.Decision
}

func (e *QuotaError) Error() string {
	return e.Decision.Message
}

func (e *QuotaError) Unwrap() error {
	return e.Decision.Err()
}
