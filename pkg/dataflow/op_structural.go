package dataflow

import (
	"l7mp.io/interactive-engine/pkg/value"
)

// AddOp sums the multiplicities of its two inputs.
type AddOp[V value.Datum] struct {
	BaseOp
}

func NewAdd[V value.Datum]() *AddOp[V] {
	return &AddOp[V]{BaseOp: NewBaseOp("+", 2)}
}

func (op *AddOp[V]) OpType() OperatorType { return OpTypeStructural }

func (op *AddOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}
	return inputs[0].Add(inputs[1]), nil
}

// SubtractOp subtracts the second input's multiplicities from the first's.
// The result may carry negative multiplicities.
type SubtractOp[V value.Datum] struct {
	BaseOp
}

func NewSubtract[V value.Datum]() *SubtractOp[V] {
	return &SubtractOp[V]{BaseOp: NewBaseOp("-", 2)}
}

func (op *SubtractOp[V]) OpType() OperatorType { return OpTypeStructural }

func (op *SubtractOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}
	return inputs[0].Subtract(inputs[1]), nil
}

// NegateOp flips every multiplicity.
type NegateOp[V value.Datum] struct {
	BaseOp
}

func NewNegate[V value.Datum]() *NegateOp[V] {
	return &NegateOp[V]{BaseOp: NewBaseOp("neg", 1)}
}

func (op *NegateOp[V]) OpType() OperatorType { return OpTypeStructural }

func (op *NegateOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}
	return inputs[0].Negate(), nil
}
