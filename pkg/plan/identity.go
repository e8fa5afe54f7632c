package plan

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// String renders the plan as its JSON encoding.
func (p Plan[V, E]) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

// Equal compares two plans structurally, expressions included.
func (p Plan[V, E]) Equal(other Plan[V, E]) bool {
	return p.String() == other.String()
}

// Fingerprint returns a 64-bit structural hash of the plan.
func (p Plan[V, E]) Fingerprint() uint64 {
	return xxhash.Sum64String(p.String())
}

// DeepCopy clones the plan through its serialized form.
func (p Plan[V, E]) DeepCopy() Plan[V, E] {
	var out Plan[V, E]
	b, err := json.Marshal(p)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return Plan[V, E]{}
	}
	return out
}
