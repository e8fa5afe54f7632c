package dataflow

import (
	"fmt"

	"l7mp.io/interactive-engine/pkg/value"
)

// DeriveOp applies an evaluator to every tuple of its input, passing
// multiplicities through unchanged per derived tuple. Linear, so it is
// already incremental.
type DeriveOp[V value.Datum] struct {
	BaseOp
	eval Evaluator[V]
}

// NewDerive creates a new derivation op.
func NewDerive[V value.Datum](eval Evaluator[V]) *DeriveOp[V] {
	return &DeriveOp[V]{
		BaseOp: NewBaseOp(fmt.Sprintf("derive:%s", eval), 1),
		eval:   eval,
	}
}

func (op *DeriveOp[V]) OpType() OperatorType { return OpTypeLinear }

// Process evaluates the op.
func (op *DeriveOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}

	result := NewZSet[V]()
	for _, e := range inputs[0].Entries() {
		outs, err := op.eval.Evaluate(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("derivation %s failed: %w", op.Name(), err)
		}
		for _, out := range outs {
			result.AddTupleMutate(out, e.Diff)
		}
	}

	return result, nil
}

// SelectionOp keeps the tuples a predicate accepts. Linear.
type SelectionOp[V value.Datum] struct {
	BaseOp
	pred func(tuple []V) (bool, error)
}

// NewSelection creates a new selection op.
func NewSelection[V value.Datum](name string, pred func(tuple []V) (bool, error)) *SelectionOp[V] {
	return &SelectionOp[V]{
		BaseOp: NewBaseOp("select:"+name, 1),
		pred:   pred,
	}
}

func (op *SelectionOp[V]) OpType() OperatorType { return OpTypeLinear }

// Process evaluates the op.
func (op *SelectionOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}

	result := NewZSet[V]()
	for _, e := range inputs[0].Entries() {
		keep, err := op.pred(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("selection %s failed: %w", op.Name(), err)
		}
		if keep {
			result.AddTupleMutate(e.Tuple, e.Diff)
		}
	}

	return result, nil
}
