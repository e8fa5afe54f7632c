package dataflow

import (
	"fmt"
	"sort"
	"strings"

	"l7mp.io/interactive-engine/pkg/value"
)

// ZSet is a Z-set over tuples of V: each tuple carries a signed integer
// multiplicity. Tuples are keyed by their canonical display key, so datum
// equality is what defines tuple identity.
type ZSet[V value.Datum] struct {
	tuples map[string][]V
	counts map[string]value.Diff
}

// NewZSet creates an empty Z-set.
func NewZSet[V value.Datum]() *ZSet[V] {
	return &ZSet[V]{
		tuples: make(map[string][]V),
		counts: make(map[string]value.Diff),
	}
}

// Singleton creates a Z-set containing one tuple with multiplicity 1.
func Singleton[V value.Datum](tuple []V) *ZSet[V] {
	z := NewZSet[V]()
	z.AddTupleMutate(tuple, 1)
	return z
}

// FromTuples creates a Z-set from tuples, each with multiplicity 1.
func FromTuples[V value.Datum](tuples [][]V) *ZSet[V] {
	z := NewZSet[V]()
	for _, t := range tuples {
		z.AddTupleMutate(t, 1)
	}
	return z
}

// AddTupleMutate adds a tuple with the given multiplicity in place,
// removing the entry when the multiplicity cancels to zero.
func (z *ZSet[V]) AddTupleMutate(tuple []V, diff value.Diff) {
	if diff == 0 {
		return
	}

	key := value.Key(tuple)
	if _, ok := z.counts[key]; ok {
		z.counts[key] += diff
	} else {
		z.tuples[key] = tuple
		z.counts[key] = diff
	}

	if z.counts[key] == 0 {
		delete(z.counts, key)
		delete(z.tuples, key)
	}
}

// AddTuple adds a tuple with the given multiplicity and returns the new
// Z-set, leaving the receiver unchanged.
func (z *ZSet[V]) AddTuple(tuple []V, diff value.Diff) *ZSet[V] {
	result := z.Copy()
	result.AddTupleMutate(tuple, diff)
	return result
}

// AddMutate performs Z-set addition in place.
func (z *ZSet[V]) AddMutate(other *ZSet[V]) {
	if other == nil {
		return
	}
	for key, diff := range other.counts {
		z.AddTupleMutate(other.tuples[key], diff)
	}
}

// Add performs Z-set addition (union with multiplicity).
func (z *ZSet[V]) Add(other *ZSet[V]) *ZSet[V] {
	result := z.Copy()
	result.AddMutate(other)
	return result
}

// Subtract performs Z-set subtraction. Multiplicities may go negative,
// representing retractions.
func (z *ZSet[V]) Subtract(other *ZSet[V]) *ZSet[V] {
	result := z.Copy()
	if other == nil {
		return result
	}
	for key, diff := range other.counts {
		result.AddTupleMutate(other.tuples[key], -diff)
	}
	return result
}

// Negate flips the sign of every multiplicity.
func (z *ZSet[V]) Negate() *ZSet[V] {
	return NewZSet[V]().Subtract(z)
}

// Distinct converts to set semantics: tuples with positive multiplicity
// appear with multiplicity 1, the rest are dropped.
func (z *ZSet[V]) Distinct() *ZSet[V] {
	result := NewZSet[V]()
	for key, diff := range z.counts {
		if diff > 0 {
			result.AddTupleMutate(z.tuples[key], 1)
		}
	}
	return result
}

// Entry is a tuple together with its multiplicity.
type Entry[V value.Datum] struct {
	Tuple []V
	Diff  value.Diff
}

// Entries lists all tuples with their multiplicities, negative ones
// included. Order is unspecified.
func (z *ZSet[V]) Entries() []Entry[V] {
	result := make([]Entry[V], 0, len(z.counts))
	for key, diff := range z.counts {
		result = append(result, Entry[V]{Tuple: z.tuples[key], Diff: diff})
	}
	return result
}

// Multiplicity returns the multiplicity of a tuple, zero when absent.
func (z *ZSet[V]) Multiplicity(tuple []V) value.Diff {
	return z.counts[value.Key(tuple)]
}

// Contains checks whether a tuple is present with positive multiplicity.
func (z *ZSet[V]) Contains(tuple []V) bool {
	return z.Multiplicity(tuple) > 0
}

// IsZero checks whether the Z-set has no entries at all.
func (z *ZSet[V]) IsZero() bool { return len(z.counts) == 0 }

// Size returns the sum of positive multiplicities.
func (z *ZSet[V]) Size() int {
	total := 0
	for _, diff := range z.counts {
		if diff > 0 {
			total += diff
		}
	}
	return total
}

// UniqueCount returns the number of distinct tuples with positive
// multiplicity.
func (z *ZSet[V]) UniqueCount() int {
	count := 0
	for _, diff := range z.counts {
		if diff > 0 {
			count++
		}
	}
	return count
}

// Copy creates a copy sharing tuple storage. Tuples are never mutated once
// inserted, so sharing is safe.
func (z *ZSet[V]) Copy() *ZSet[V] {
	result := &ZSet[V]{
		tuples: make(map[string][]V, len(z.tuples)),
		counts: make(map[string]value.Diff, len(z.counts)),
	}
	for key, tuple := range z.tuples {
		result.tuples[key] = tuple
		result.counts[key] = z.counts[key]
	}
	return result
}

// String renders the Z-set for diagnostics, in key order.
func (z *ZSet[V]) String() string {
	if z.IsZero() {
		return "∅"
	}

	keys := make([]string, 0, len(z.counts))
	for key := range z.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, key := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s×%d", key, z.counts[key])
	}
	b.WriteString("}")
	return b.String()
}

// Batch is a delta tagged with the time at which it becomes visible.
type Batch[V value.Datum] struct {
	Time  value.Time
	Delta *ZSet[V]
}
