package plan

import (
	"fmt"
)

// ValidationError reports a structurally invalid plan or query: name
// collisions, unresolved references, or out-of-range expression indices.
// Validation failures are raised at install time and never leave partial
// state behind.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid plan: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid plan: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a validation error.
func NewValidationError(reason string, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}
