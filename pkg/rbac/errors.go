package rbac

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")
	ErrInternal   = errors.New("internal failure")
)

// genericCheckFailure is the only message an internal failure carries to callers
const genericCheckFailure = "permission check failed"

// Error carries a caller-safe message for one of the error kinds
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NotFoundf returns an ErrNotFound error
func NotFoundf(format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validationf returns an ErrValidation error
func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// Forbidden returns an ErrForbidden error
func Forbidden(message string) error {
	return &Error{Kind: ErrForbidden, Message: message}
}

// internalFailure returns the sanitized generic failure
func internalFailure() error {
	return &Error{Kind: ErrInternal, Message: genericCheckFailure}
}

// isPassThrough reports whether err may reach callers unchanged
func isPassThrough(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrForbidden)
}
