// Package apperr defines the error taxonomy shared by the trading services.
package apperr

import (
	"errors"
	"fmt"

	"bintrade-core/pkg/db"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = db.ErrNotFound
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedRecord     = errors.New("malformed record")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadySettled      = errors.New("trade already settled")
	ErrAlreadyProcessed    = errors.New("transaction already processed")
	ErrLimitReached        = errors.New("limit reached")
)

// Validation returns an error wrapping ErrValidation with a caller-facing message.
func Validation(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }

// Malformed wraps ErrMalformedRecord with the offending record id.
func Malformed(kind, id, reason string) error {
	return fmt.Errorf("%w: %s %s: %s", ErrMalformedRecord, kind, id, reason)
}
