package command

import (
	"bytes"
	"encoding/json"
	"fmt"

	"l7mp.io/interactive-engine/pkg/value"
)

// Encode serializes a command for the wire. The encoding round-trips with
// full fidelity: Decode(Encode(c)) equals c.
func Encode[V value.Datum, E value.Expr[V]](c Command[V, E]) ([]byte, error) {
	if c.variants() != 1 {
		return nil, NewSerializationError(fmt.Sprintf("command must have exactly one variant, has %d", c.variants()), nil)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, NewSerializationError("encoding failed", err)
	}
	return b, nil
}

// Decode parses a command off the wire. Malformed or version-mismatched
// payloads fail with a SerializationError and leave engine state unaffected.
func Decode[V value.Datum, E value.Expr[V]](b []byte) (Command[V, E], error) {
	var c Command[V, E]

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Command[V, E]{}, NewSerializationError("malformed command payload", err)
	}
	if c.variants() != 1 {
		return Command[V, E]{}, NewSerializationError(
			fmt.Sprintf("command must have exactly one variant, has %d", c.variants()), nil)
	}

	return c, nil
}
