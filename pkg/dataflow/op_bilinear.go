package dataflow

import (
	"fmt"

	"l7mp.io/interactive-engine/pkg/value"
)

// keyedIndex groups tuples by their key-expression values. It is the
// operator-local arrangement incremental joins keep as state.
type keyedIndex[V value.Datum] struct {
	key    KeyFunc[V]
	groups map[string]*ZSet[V]
}

func newKeyedIndex[V value.Datum](key KeyFunc[V]) *keyedIndex[V] {
	return &keyedIndex[V]{key: key, groups: make(map[string]*ZSet[V])}
}

func (ix *keyedIndex[V]) add(delta *ZSet[V]) error {
	for _, e := range delta.Entries() {
		k, err := ix.key(e.Tuple)
		if err != nil {
			return err
		}
		kk := value.Key(k)
		group, ok := ix.groups[kk]
		if !ok {
			group = NewZSet[V]()
			ix.groups[kk] = group
		}
		group.AddTupleMutate(e.Tuple, e.Diff)
		if group.IsZero() {
			delete(ix.groups, kk)
		}
	}
	return nil
}

func (ix *keyedIndex[V]) group(keyKey string) *ZSet[V] {
	return ix.groups[keyKey]
}

func concat[V value.Datum](left, right []V) []V {
	out := make([]V, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}

// joinLeftDelta matches a left-side delta against a right-side index,
// emitting left++right with multiplicity products.
func joinLeftDelta[V value.Datum](delta *ZSet[V], leftKey KeyFunc[V], right *keyedIndex[V], result *ZSet[V]) error {
	for _, le := range delta.Entries() {
		k, err := leftKey(le.Tuple)
		if err != nil {
			return err
		}
		group := right.group(value.Key(k))
		if group == nil {
			continue
		}
		for _, re := range group.Entries() {
			result.AddTupleMutate(concat(le.Tuple, re.Tuple), le.Diff*re.Diff)
		}
	}
	return nil
}

// joinRightDelta matches a right-side delta against a left-side index,
// preserving the left++right output order.
func joinRightDelta[V value.Datum](left *keyedIndex[V], delta *ZSet[V], rightKey KeyFunc[V], result *ZSet[V]) error {
	for _, re := range delta.Entries() {
		k, err := rightKey(re.Tuple)
		if err != nil {
			return err
		}
		group := left.group(value.Key(k))
		if group == nil {
			continue
		}
		for _, le := range group.Entries() {
			result.AddTupleMutate(concat(le.Tuple, re.Tuple), le.Diff*re.Diff)
		}
	}
	return nil
}

// JoinOp is a snapshot equi-join: tuples from the two inputs match when
// their key expressions evaluate to equal key tuples. The output combines
// matched tuples as left++right with multiplicity equal to the product of
// the input multiplicities.
type JoinOp[V value.Datum] struct {
	BaseOp
	leftKey  KeyFunc[V]
	rightKey KeyFunc[V]
}

// NewJoin returns a new snapshot join op.
func NewJoin[V value.Datum](leftKey, rightKey KeyFunc[V]) *JoinOp[V] {
	return &JoinOp[V]{
		BaseOp:   NewBaseOp("snapshot_⋈", 2),
		leftKey:  leftKey,
		rightKey: rightKey,
	}
}

func (op *JoinOp[V]) OpType() OperatorType { return OpTypeBilinear }

// Process evaluates the op.
func (op *JoinOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}

	right := newKeyedIndex(op.rightKey)
	if err := right.add(inputs[1]); err != nil {
		return nil, fmt.Errorf("join %s: right key extraction failed: %w", op.Name(), err)
	}

	result := NewZSet[V]()
	if err := joinLeftDelta(inputs[0], op.leftKey, right, result); err != nil {
		return nil, fmt.Errorf("join %s failed: %w", op.Name(), err)
	}
	return result, nil
}

// IncrementalJoinOp is the bilinear expansion of JoinOp over delta streams:
//
//	Δ(A ⋈ B) = ΔA ⋈ ΔB + A ⋈ ΔB + ΔA ⋈ B
//
// It keeps both sides' accumulated state as keyed indexes.
type IncrementalJoinOp[V value.Datum] struct {
	BaseOp
	leftKey  KeyFunc[V]
	rightKey KeyFunc[V]

	prevLeft  *keyedIndex[V]
	prevRight *keyedIndex[V]
}

// NewIncrementalJoin creates a new incremental equi-join.
func NewIncrementalJoin[V value.Datum](leftKey, rightKey KeyFunc[V]) *IncrementalJoinOp[V] {
	return &IncrementalJoinOp[V]{
		BaseOp:    NewBaseOp("⋈", 2),
		leftKey:   leftKey,
		rightKey:  rightKey,
		prevLeft:  newKeyedIndex(leftKey),
		prevRight: newKeyedIndex(rightKey),
	}
}

func (op *IncrementalJoinOp[V]) OpType() OperatorType { return OpTypeBilinear }

// Process evaluates the op.
func (op *IncrementalJoinOp[V]) Process(inputs ...*ZSet[V]) (*ZSet[V], error) {
	if err := validateInputs[V](op, inputs); err != nil {
		return nil, err
	}

	deltaL, deltaR := inputs[0], inputs[1]
	result := NewZSet[V]()

	// ΔL ⋈ ΔR
	deltaRIndex := newKeyedIndex(op.rightKey)
	if err := deltaRIndex.add(deltaR); err != nil {
		return nil, fmt.Errorf("ΔL ⋈ ΔR failed: %w", err)
	}
	if err := joinLeftDelta(deltaL, op.leftKey, deltaRIndex, result); err != nil {
		return nil, fmt.Errorf("ΔL ⋈ ΔR failed: %w", err)
	}

	// ΔL ⋈ prev_R
	if err := joinLeftDelta(deltaL, op.leftKey, op.prevRight, result); err != nil {
		return nil, fmt.Errorf("ΔL ⋈ prev_R failed: %w", err)
	}

	// prev_L ⋈ ΔR
	if err := joinRightDelta(op.prevLeft, deltaR, op.rightKey, result); err != nil {
		return nil, fmt.Errorf("prev_L ⋈ ΔR failed: %w", err)
	}

	// Update state for the next delta.
	if err := op.prevLeft.add(deltaL); err != nil {
		return nil, err
	}
	if err := op.prevRight.add(deltaR); err != nil {
		return nil, err
	}

	return result, nil
}

func (op *IncrementalJoinOp[V]) Reset() {
	op.prevLeft = newKeyedIndex(op.leftKey)
	op.prevRight = newKeyedIndex(op.rightKey)
}
