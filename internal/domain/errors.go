package domain

import (
	"errors"
	"fmt"
)

// Error categories. Callers classify with errors.Is; operations report the
// matching Outcome on their external surface.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrCapacity     = errors.New("capacity reached")
	ErrTransient    = errors.New("transient failure")
	ErrUnavailable  = errors.New("unavailable")
)

// ErrUnknownModel is returned for model identifiers outside the tier set.
// It is an InvalidInput error.
var ErrUnknownModel = fmt.Errorf("%w: unknown model", ErrInvalidInput)

// Outcome is the exit status reported on the tool surface.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeTransient    Outcome = "transient"
	OutcomeInvalidInput Outcome = "invalid_input"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeCapacity     Outcome = "capacity"
	OutcomeUnavailable  Outcome = "unavailable"
)

// ClassifyError maps an error to its Outcome.
func ClassifyError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrCapacity):
		return OutcomeCapacity
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeTransient
	}
}
