package risk

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrAlreadyRunning is returned when a risk run is triggered while one is
// already in progress for the same invoice.
var ErrAlreadyRunning = eris.New("risk: run already in progress")

// ErrNotComputed is returned when a risk score is requested before any run
// has completed for the invoice.
var ErrNotComputed = eris.New("risk: score not computed")

// ValidationError reports malformed caller input. It is distinct from
// infrastructure errors so the HTTP surface can map it to a 4xx.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("risk: invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
