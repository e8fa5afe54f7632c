package engine

import (
	"fmt"
	"strings"

	"l7mp.io/interactive-engine/pkg/dataflow"
	"l7mp.io/interactive-engine/pkg/plan"
	"l7mp.io/interactive-engine/pkg/value"
)

// exprEval adapts a list of expressions to the substrate's Evaluator: each
// input tuple maps to the single tuple [e_0(t), ..., e_n-1(t)].
type exprEval[V value.Datum, E value.Expr[V]] struct {
	exprs []E
}

func newExprEval[V value.Datum, E value.Expr[V]](exprs []E) exprEval[V, E] {
	return exprEval[V, E]{exprs: exprs}
}

func (e exprEval[V, E]) Evaluate(tuple []V) ([][]V, error) {
	out := make([]V, len(e.exprs))
	for i, expr := range e.exprs {
		v, err := value.SubjectTo(tuple, expr)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return [][]V{out}, nil
}

func (e exprEval[V, E]) String() string {
	parts := make([]string, len(e.exprs))
	for i, expr := range e.exprs {
		parts[i] = expr.String()
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

// joinKeys builds the two key functions of an equi-join from its key
// expression pairs.
func joinKeys[V value.Datum, E value.Expr[V]](keys []plan.JoinKey[V, E]) (dataflow.KeyFunc[V], dataflow.KeyFunc[V]) {
	left := make([]E, len(keys))
	right := make([]E, len(keys))
	for i, k := range keys {
		left[i] = k.Left
		right[i] = k.Right
	}
	return exprKey[V](left), exprKey[V](right)
}

func exprKey[V value.Datum, E value.Expr[V]](exprs []E) dataflow.KeyFunc[V] {
	return func(tuple []V) ([]V, error) {
		key := make([]V, len(exprs))
		for i, expr := range exprs {
			v, err := value.SubjectTo(tuple, expr)
			if err != nil {
				return nil, err
			}
			key[i] = v
		}
		return key, nil
	}
}

// compilePlan turns a validated plan into its operator node tree. Stateful
// operators are instantiated once per worker shard; their state persists
// for the lifetime of the installed query.
func compilePlan[V value.Datum, E value.Expr[V]](p *plan.Plan[V, E], pool *dataflow.Pool, maxIter int) (node[V], error) {
	n := pool.Workers()

	switch {
	case p.Read != nil:
		return &readNode[V]{name: p.Read.Name}, nil

	case p.Derive != nil:
		child, err := compilePlan(&p.Derive.Plan, pool, maxIter)
		if err != nil {
			return nil, err
		}
		ops := make([]dataflow.Operator[V], n)
		for i := range ops {
			ops[i] = dataflow.NewDerive[V](newExprEval[V](p.Derive.Exprs))
		}
		return &deriveNode[V]{child: child, pool: pool, ops: ops}, nil

	case p.Join != nil:
		left, err := compilePlan(&p.Join.Left, pool, maxIter)
		if err != nil {
			return nil, err
		}
		right, err := compilePlan(&p.Join.Right, pool, maxIter)
		if err != nil {
			return nil, err
		}
		lk, rk := joinKeys(p.Join.Keys)
		ops := make([]dataflow.Operator[V], n)
		for i := range ops {
			ops[i] = dataflow.NewIncrementalJoin[V](lk, rk)
		}
		return &joinNode[V]{
			left: left, right: right,
			leftKey: lk, rightKey: rk,
			pool: pool, ops: ops,
		}, nil

	case p.Union != nil:
		left, err := compilePlan(&p.Union.Left, pool, maxIter)
		if err != nil {
			return nil, err
		}
		right, err := compilePlan(&p.Union.Right, pool, maxIter)
		if err != nil {
			return nil, err
		}
		return &unionNode[V]{left: left, right: right, op: dataflow.NewAdd[V]()}, nil

	case p.Difference != nil:
		left, err := compilePlan(&p.Difference.Left, pool, maxIter)
		if err != nil {
			return nil, err
		}
		right, err := compilePlan(&p.Difference.Right, pool, maxIter)
		if err != nil {
			return nil, err
		}
		return &differenceNode[V]{left: left, right: right, op: dataflow.NewSubtract[V]()}, nil

	case p.Distinct != nil:
		child, err := compilePlan(p.Distinct, pool, maxIter)
		if err != nil {
			return nil, err
		}
		ops := make([]dataflow.Operator[V], n)
		for i := range ops {
			ops[i] = dataflow.NewIncrementalDistinct[V]()
		}
		return &distinctNode[V]{child: child, pool: pool, ops: ops}, nil

	case p.Iterate != nil:
		return newIterateNode[V](p.Iterate, maxIter), nil
	}

	return nil, plan.NewValidationError("empty plan", nil)
}
