package dataflow

import (
	"l7mp.io/interactive-engine/pkg/value"
)

// DistinctOp converts a snapshot Z-set to set semantics. Nonlinear: over
// delta streams it must be lifted, see IncrementalDistinctOp.
type DistinctOp[V value.Datum] struct {
	BaseOp
}

func NewDistinct[V value.Datum]() *DistinctOp[V] {
	return &DistinctOp[V]{BaseOp: NewBaseOp("distinct", 1)}
}

func (op *DistinctOp[V]) OpType() OperatorType { return OpTypeNonLinear }

func (op *DistinctOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}
	return inputs[0].Distinct(), nil
}

// IncrementalDistinctOp is the D ∘ distinct ∘ I lifting of DistinctOp: it
// consumes deltas and emits the delta of the distinct of the integrated
// input.
type IncrementalDistinctOp[V value.Datum] struct {
	BaseOp
	integrated *ZSet[V] // running input snapshot
	prevOut    *ZSet[V] // previous distinct snapshot
}

func NewIncrementalDistinct[V value.Datum]() *IncrementalDistinctOp[V] {
	return &IncrementalDistinctOp[V]{
		BaseOp:     NewBaseOp("distinct^Δ", 1),
		integrated: NewZSet[V](),
		prevOut:    NewZSet[V](),
	}
}

func (op *IncrementalDistinctOp[V]) OpType() OperatorType { return OpTypeNonLinear }

func (op *IncrementalDistinctOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}

	op.integrated.AddMutate(inputs[0])
	out := op.integrated.Distinct()
	delta := out.Subtract(op.prevOut)
	op.prevOut = out

	return delta, nil
}

func (op *IncrementalDistinctOp[V]) Reset() {
	op.integrated = NewZSet[V]()
	op.prevOut = NewZSet[V]()
}
