package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Error taxonomy. Callers match with errors.Is; wrapping with eris keeps the chain.
var (
	ErrValidation          = eris.New("validation failed")
	ErrQuotaExceeded       = eris.New("daily search quota exceeded")
	ErrUpstreamUnavailable = eris.New("upstream unavailable")
	ErrNotFound            = eris.New("not found")
	ErrAlreadyProcessed    = eris.New("prospect already processed")
	ErrConflict            = eris.New("conflict")
	ErrForbidden           = eris.New("forbidden")
)

// ValidationError describes a rejected input field with an actionable message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the kind and key that were missing.
func NotFound(kind, key string) error {
	return eris.Wrapf(ErrNotFound, "%s %q", kind, key)
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
