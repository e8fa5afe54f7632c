package command

import (
	"fmt"
)

// SerializationError reports a malformed or version-mismatched command
// payload. The offending message is dropped; engine state is unaffected.
type SerializationError struct {
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command serialization: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("command serialization: %s", e.Reason)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// NewSerializationError creates a serialization error.
func NewSerializationError(reason string, err error) error {
	return &SerializationError{Reason: reason, Err: err}
}
