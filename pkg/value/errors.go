package value

import (
	"fmt"
)

// OutOfBoundsError reports an expression referencing a column index past the
// end of the tuple it was applied to.
type OutOfBoundsError struct {
	Index int
	Len   int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("column index %d out of bounds for tuple of arity %d", e.Index, e.Len)
}

// NewOutOfBoundsError creates an error for an index past the given length.
func NewOutOfBoundsError(index, length int) error {
	return &OutOfBoundsError{Index: index, Len: length}
}
