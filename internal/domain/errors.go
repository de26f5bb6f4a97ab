package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownInstrument is returned for a symbol outside the configured universe.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrUnknownPair is returned when an auction's token pair maps to no instrument.
	ErrUnknownPair = errors.New("unknown pair")

	// ErrUnknownOrder is returned when a notification references an untracked order.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrDuplicateEvent is returned when an event id was already processed.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrVenueRejected is returned when the venue refuses a placement or cancel.
	ErrVenueRejected = errors.New("venue rejected")

	// ErrVenueTimeout is returned when a venue call did not answer in time.
	// The resulting order state is unknown until queried.
	ErrVenueTimeout = errors.New("venue timeout")
)

// ValidationError is a malformed or unsupported inbound request.
// It is raised at the boundary, before anything reaches the core.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
