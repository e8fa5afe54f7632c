// Package value defines the contract tuple data must satisfy for the engine
// to operate on it: datums are comparable, displayable values, and every
// datum type comes with an expression type that can derive new datums from
// tuples. The engine itself never inspects datums beyond this contract, so
// arbitrary domain-specific value catalogs can be plugged in alongside the
// provided Uint/Uint32 reference implementations.
package value

import (
	"fmt"
	"time"
)

// Time is the system-wide notion of time: a logical/physical timestamp
// establishing the order in which updates become visible.
type Time = time.Duration

// Diff is the system-wide update type: a signed multiplicity delta, positive
// for net insertions and negative for net retractions.
type Diff = int

// Datum constrains the types usable as tuple data. Comparability gives
// equality and hashing, String gives structured display. String must be
// injective per datum type: the substrate derives tuple identity from it.
type Datum interface {
	comparable
	fmt.Stringer
}

// Expr is the expression contract associated with a datum type: a pure,
// serializable description of how to derive a new datum from a slice of
// existing datums. Implementations must be comparable value types (plans
// containing them support equality and hashing) and must round-trip through
// JSON without loss.
type Expr[V Datum] interface {
	comparable
	// Eval derives a new datum from a tuple. It must be a deterministic
	// function of its inputs with no hidden state.
	Eval(data []V) (V, error)
	// Bound reports the minimum tuple arity the expression requires. Eval
	// on a shorter tuple fails with an OutOfBoundsError.
	Bound() int
	fmt.Stringer
}

// SubjectTo applies an expression to a slice of data. For any in-bounds
// index i, SubjectTo(data, Projection(i)) returns exactly data[i].
func SubjectTo[V Datum, E Expr[V]](data []V, expr E) (V, error) {
	return expr.Eval(data)
}
