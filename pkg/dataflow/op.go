package dataflow

import (
	"fmt"

	"l7mp.io/interactive-engine/pkg/value"
)

// Evaluator derives zero or more output tuples from one input tuple.
type Evaluator[V value.Datum] interface {
	Evaluate(tuple []V) ([][]V, error)
	fmt.Stringer
}

// KeyFunc extracts the key tuple an operator groups or joins on.
type KeyFunc[V value.Datum] func(tuple []V) ([]V, error)

// WholeTupleKey keys a tuple by itself.
func WholeTupleKey[V value.Datum](tuple []V) ([]V, error) { return tuple, nil }

// ColumnsKey keys a tuple by the given column indices.
func ColumnsKey[V value.Datum](cols []int) KeyFunc[V] {
	return func(tuple []V) ([]V, error) {
		key := make([]V, len(cols))
		for i, c := range cols {
			if c < 0 || c >= len(tuple) {
				return nil, value.NewOutOfBoundsError(c, len(tuple))
			}
			key[i] = tuple[c]
		}
		return key, nil
	}
}

// OperatorType classifies operators for incrementalization.
type OperatorType int

const (
	OpTypeLinear     OperatorType = iota // Op^Δ = Op
	OpTypeBilinear                       // Op^Δ needs expansion (joins)
	OpTypeNonLinear                      // Op^Δ needs lifting (distinct)
	OpTypeStructural                     // Z-set structure (add, subtract)
)

// Operator represents a computation node of the substrate.
type Operator[V value.Datum] interface {
	// Process input Z-sets and produce an output Z-set.
	Process(inputs ...*ZSet[V]) (*ZSet[V], error)
	// Name for debugging and error reporting.
	Name() string
	// Number of inputs expected.
	Arity() int

	OpType() OperatorType
}

// Resettable is implemented by stateful operators.
type Resettable interface {
	Reset()
}

// BaseOp carries the common operator fields.
type BaseOp struct {
	arity int
	name  string
}

func NewBaseOp(name string, arity int) BaseOp {
	return BaseOp{arity: arity, name: name}
}

func (n *BaseOp) Name() string { return n.name }
func (n *BaseOp) Arity() int   { return n.arity }

// validateInputs checks operator input arity in Process methods.
func validateInputs[V value.Datum](op Operator[V], inputs []*ZSet[V]) error {
	if len(inputs) != op.Arity() {
		return fmt.Errorf("operator %s expects %d inputs, got %d", op.Name(), op.Arity(), len(inputs))
	}
	for i, in := range inputs {
		if in == nil {
			return fmt.Errorf("operator %s: input %d is nil", op.Name(), i)
		}
	}
	return nil
}
