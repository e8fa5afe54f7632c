package manager

import (
	"fmt"
)

// NotFoundError reports a lookup for a name absent from the registries.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no collection registered under name %q", e.Name)
}

// NewNotFoundError creates a not-found error for a name.
func NewNotFoundError(name string) error {
	return &NotFoundError{Name: name}
}

// ConflictError reports an attempt to re-register a name with an
// incompatible shape (different arity or key columns).
type ConflictError struct {
	Name   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting registration for %q: %s", e.Name, e.Reason)
}

// NewConflictError creates a conflict error.
func NewConflictError(name, reason string) error {
	return &ConflictError{Name: name, Reason: reason}
}
