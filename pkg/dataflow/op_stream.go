package dataflow

import (
	"l7mp.io/interactive-engine/pkg/value"
)

// IntegratorOp implements the I operator: converts deltas to snapshots.
// I(s)[t] = Σ(i=0..t) s[i]
type IntegratorOp[V value.Datum] struct {
	BaseOp
	state *ZSet[V]
}

func NewIntegrator[V value.Datum]() *IntegratorOp[V] {
	return &IntegratorOp[V]{
		BaseOp: NewBaseOp("I", 1),
		state:  NewZSet[V](),
	}
}

func (op *IntegratorOp[V]) OpType() OperatorType { return OpTypeLinear }

func (op *IntegratorOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}

	op.state.AddMutate(inputs[0])
	return op.state.Copy(), nil
}

// State returns the current snapshot without advancing.
func (op *IntegratorOp[V]) State() *ZSet[V] { return op.state.Copy() }

func (op *IntegratorOp[V]) Reset() { op.state = NewZSet[V]() }

// DifferentiatorOp implements the D operator: converts snapshots to deltas.
// D(s)[t] = s[t] - s[t-1]
type DifferentiatorOp[V value.Datum] struct {
	BaseOp
	prev *ZSet[V]
}

func NewDifferentiator[V value.Datum]() *DifferentiatorOp[V] {
	return &DifferentiatorOp[V]{
		BaseOp: NewBaseOp("D", 1),
		prev:   NewZSet[V](),
	}
}

func (op *DifferentiatorOp[V]) OpType() OperatorType { return OpTypeLinear }

func (op *DifferentiatorOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}

	snapshot := inputs[0]
	delta := snapshot.Subtract(op.prev)
	op.prev = snapshot.Copy()

	return delta, nil
}

func (op *DifferentiatorOp[V]) Reset() { op.prev = NewZSet[V]() }

// DelayOp implements the z^(-1) operator: delays the stream by one step.
type DelayOp[V value.Datum] struct {
	BaseOp
	buffer *ZSet[V]
}

func NewDelay[V value.Datum]() *DelayOp[V] {
	return &DelayOp[V]{
		BaseOp: NewBaseOp("z^(-1)", 1),
		buffer: NewZSet[V](),
	}
}

func (op *DelayOp[V]) OpType() OperatorType { return OpTypeLinear }

func (op *DelayOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}

	output := op.buffer
	op.buffer = inputs[0].Copy()

	return output, nil
}

func (op *DelayOp[V]) Reset() { op.buffer = NewZSet[V]() }
