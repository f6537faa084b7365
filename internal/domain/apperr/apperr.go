// Package apperr defines the error kinds shared by the checkout domain. Each
// kind is a sentinel; errors carrying a human-readable reason wrap one of
// them so callers can classify with errors.Is regardless of wrapping depth.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrInvalidInput reports malformed or missing request data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound reports an unknown product, variant, order or invoice.
	ErrNotFound = errors.New("not found")
	// ErrForbidden reports that the caller may not access the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInsufficientStock reports that a ready-stock line exceeds availability.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState reports an operation not valid for the current lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnauthorized reports a missing or invalid caller identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a classified error with a message suitable for API clients.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// New returns an error of the given kind.
func New(kind error, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is like New but formats the message.
func Newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Message returns the client-facing message of err. Errors without a
// classified message fall back to the kind text, or "" when unclassified.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ""
}

var kinds = []error{
	ErrInvalidInput,
	ErrNotFound,
	ErrForbidden,
	ErrInsufficientStock,
	ErrInvalidState,
	ErrUnauthorized,
}
