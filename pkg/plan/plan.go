// Package plan defines the serializable intermediate representation of an
// incremental computation. A Plan is a pure description: it carries names
// and expressions but no runtime handles, so the same value can be reused,
// shipped across process boundaries, or compared structurally. Plans are
// encoded as tagged single-variant JSON objects.
package plan

import (
	"l7mp.io/interactive-engine/pkg/value"
)

// Plan describes a computation producing a collection of V tuples. Exactly
// one variant field is set.
type Plan[V value.Datum, E value.Expr[V]] struct {
	// Read a named existing collection: an input, an arrangement, or a
	// rule of the enclosing query.
	Read *ReadPlan `json:"read,omitempty"`
	// Derive new tuples by applying expressions to each input tuple.
	Derive *DerivePlan[V, E] `json:"derive,omitempty"`
	// Equi-join two sub-plans on key expressions.
	Join *JoinPlan[V, E] `json:"join,omitempty"`
	// Set union: multiplicities add.
	Union *UnionPlan[V, E] `json:"union,omitempty"`
	// Set difference: multiplicities subtract and may go negative.
	Difference *DifferencePlan[V, E] `json:"difference,omitempty"`
	// Set semantics: positive multiplicities collapse to one.
	Distinct *Plan[V, E] `json:"distinct,omitempty"`
	// Explicit fixpoint of a single plan.
	Iterate *IteratePlan[V, E] `json:"iterate,omitempty"`
}

// ReadPlan names an existing collection.
type ReadPlan struct {
	Name string `json:"name"`
}

// DerivePlan transforms each input tuple into [e_0(t), ..., e_n-1(t)].
type DerivePlan[V value.Datum, E value.Expr[V]] struct {
	Plan  Plan[V, E] `json:"plan"`
	Exprs []E        `json:"exprs"`
}

// JoinKey pairs the key expressions of the two join sides: tuples match
// when every pair evaluates to equal datums.
type JoinKey[V value.Datum, E value.Expr[V]] struct {
	Left  E `json:"left"`
	Right E `json:"right"`
}

// JoinPlan matches tuples of two sub-plans on equal key values, emitting
// the concatenated tuple with the product of the input multiplicities.
type JoinPlan[V value.Datum, E value.Expr[V]] struct {
	Left  Plan[V, E]      `json:"left"`
	Right Plan[V, E]      `json:"right"`
	Keys  []JoinKey[V, E] `json:"keys"`
}

// UnionPlan adds the multiplicities of two sub-plans.
type UnionPlan[V value.Datum, E value.Expr[V]] struct {
	Left  Plan[V, E] `json:"left"`
	Right Plan[V, E] `json:"right"`
}

// DifferencePlan subtracts the right sub-plan's multiplicities from the
// left's.
type DifferencePlan[V value.Datum, E value.Expr[V]] struct {
	Left  Plan[V, E] `json:"left"`
	Right Plan[V, E] `json:"right"`
}

// IteratePlan evaluates Body to fixpoint; reads of Name inside Body refer
// to the previous iteration's result.
type IteratePlan[V value.Datum, E value.Expr[V]] struct {
	Name string     `json:"name"`
	Body Plan[V, E] `json:"body"`
}

// Read creates a plan reading a named collection.
func Read[V value.Datum, E value.Expr[V]](name string) Plan[V, E] {
	return Plan[V, E]{Read: &ReadPlan{Name: name}}
}

// Derive creates a plan applying expressions to each tuple of a sub-plan.
func Derive[V value.Datum, E value.Expr[V]](p Plan[V, E], exprs ...E) Plan[V, E] {
	return Plan[V, E]{Derive: &DerivePlan[V, E]{Plan: p, Exprs: exprs}}
}

// Project creates a plan selecting the given columns of a sub-plan. It is
// Derive over projection expressions and only works for datums whose
// expression type is value.ColRef.
func Project[V value.Datum](p Plan[V, value.ColRef[V]], cols ...int) Plan[V, value.ColRef[V]] {
	exprs := make([]value.ColRef[V], len(cols))
	for i, c := range cols {
		exprs[i] = value.Projection[V](c)
	}
	return Derive(p, exprs...)
}

// Join creates an equi-join of two sub-plans on the given key pairs.
func Join[V value.Datum, E value.Expr[V]](left, right Plan[V, E], keys ...JoinKey[V, E]) Plan[V, E] {
	return Plan[V, E]{Join: &JoinPlan[V, E]{Left: left, Right: right, Keys: keys}}
}

// Union creates the multiplicity-adding combination of two sub-plans.
func Union[V value.Datum, E value.Expr[V]](left, right Plan[V, E]) Plan[V, E] {
	return Plan[V, E]{Union: &UnionPlan[V, E]{Left: left, Right: right}}
}

// Difference creates the multiplicity-subtracting combination of two
// sub-plans.
func Difference[V value.Datum, E value.Expr[V]](left, right Plan[V, E]) Plan[V, E] {
	return Plan[V, E]{Difference: &DifferencePlan[V, E]{Left: left, Right: right}}
}

// Distinct creates the set-semantics conversion of a sub-plan.
func Distinct[V value.Datum, E value.Expr[V]](p Plan[V, E]) Plan[V, E] {
	return Plan[V, E]{Distinct: &p}
}

// Iterate creates an explicit fixpoint plan.
func Iterate[V value.Datum, E value.Expr[V]](name string, body Plan[V, E]) Plan[V, E] {
	return Plan[V, E]{Iterate: &IteratePlan[V, E]{Name: name, Body: body}}
}

// Kind reports the variant tag, empty for an unset plan.
func (p Plan[V, E]) Kind() string {
	switch {
	case p.Read != nil:
		return "read"
	case p.Derive != nil:
		return "derive"
	case p.Join != nil:
		return "join"
	case p.Union != nil:
		return "union"
	case p.Difference != nil:
		return "difference"
	case p.Distinct != nil:
		return "distinct"
	case p.Iterate != nil:
		return "iterate"
	}
	return ""
}

func (p *Plan[V, E]) variants() int {
	n := 0
	for _, set := range []bool{
		p.Read != nil, p.Derive != nil, p.Join != nil, p.Union != nil,
		p.Difference != nil, p.Distinct != nil, p.Iterate != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
