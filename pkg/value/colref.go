package value

import (
	"encoding/json"
	"fmt"
)

// ColRef is the canonical projection expression: it selects one positional
// field of a tuple. It is the expression type of the provided Uint and
// Uint32 datums, and works for any datum type.
type ColRef[V Datum] struct {
	Col int
}

// Projection creates an expression selecting the given positional field.
func Projection[V Datum](index int) ColRef[V] {
	return ColRef[V]{Col: index}
}

// Eval returns data[c.Col], or an OutOfBoundsError when the tuple is too
// short or the index negative.
func (c ColRef[V]) Eval(data []V) (V, error) {
	if c.Col < 0 || c.Col >= len(data) {
		var zero V
		return zero, NewOutOfBoundsError(c.Col, len(data))
	}
	return data[c.Col], nil
}

// Bound reports the minimum arity a tuple needs for Eval to succeed.
func (c ColRef[V]) Bound() int { return c.Col + 1 }

func (c ColRef[V]) String() string { return fmt.Sprintf("#%d", c.Col) }

// ColRef serializes as a bare column index, matching the reference
// expression semantics of the index datums.
func (c ColRef[V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Col)
}

func (c *ColRef[V]) UnmarshalJSON(b []byte) error {
	var col int
	if err := json.Unmarshal(b, &col); err != nil {
		return fmt.Errorf("invalid column reference %q: %w", string(b), err)
	}
	c.Col = col
	return nil
}
