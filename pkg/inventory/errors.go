package inventory

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrTypeMismatch     = errors.New("component type mismatch")
	ErrAlreadyAssembled = errors.New("already assembled")
	ErrNothingAssembled = errors.New("nothing assembled")
	ErrDuplicate        = errors.New("duplicate")
	ErrAlreadyInstalled = errors.New("already installed")
	ErrNotInstalled     = errors.New("not installed")
	ErrInUse            = errors.New("in use")
	ErrPathEscape       = errors.New("path escapes data directory")
	ErrTransitionDenied = errors.New("status transition denied")
)

// Error carries a user-facing message and the kind it belongs to.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(what, id string) error {
	return newError(ErrNotFound, "%s %s not found", what, id)
}

func invalid(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

// Code maps an error onto a stable machine-readable code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrTypeMismatch):
		return "TYPE_MISMATCH"
	case errors.Is(err, ErrAlreadyAssembled):
		return "ALREADY_ASSEMBLED"
	case errors.Is(err, ErrNothingAssembled):
		return "NOTHING_ASSEMBLED"
	case errors.Is(err, ErrDuplicate):
		return "DUPLICATE"
	case errors.Is(err, ErrAlreadyInstalled):
		return "ALREADY_INSTALLED"
	case errors.Is(err, ErrNotInstalled):
		return "NOT_INSTALLED"
	case errors.Is(err, ErrInUse):
		return "IN_USE"
	case errors.Is(err, ErrPathEscape):
		return "PATH_ESCAPE"
	case errors.Is(err, ErrTransitionDenied):
		return "TRANSITION_DENIED"
	}
	return "INTERNAL"
}
