package engine

import (
	"context"

	"l7mp.io/interactive-engine/pkg/dataflow"
	"l7mp.io/interactive-engine/pkg/plan"
	"l7mp.io/interactive-engine/pkg/value"
)

// deltas is the evaluation environment of one pass: collection name to the
// delta visible in this pass. Missing names read as empty.
type deltas[V value.Datum] map[string]*dataflow.ZSet[V]

func (d deltas[V]) get(name string) *dataflow.ZSet[V] {
	if z, ok := d[name]; ok && z != nil {
		return z
	}
	return dataflow.NewZSet[V]()
}

// node is one compiled plan operator. Stateful nodes hold one operator
// instance per worker shard; eval exchanges deltas between nodes by key
// hash so state for a key always lives on the same shard.
type node[V value.Datum] interface {
	eval(ctx context.Context, env deltas[V]) (*dataflow.ZSet[V], error)
}

// runSharded partitions each input by its key, runs the shard-local
// operator instances in parallel, and merges the shard outputs. Returning
// only after every shard finished is what makes the result safe to hand
// downstream.
func runSharded[V value.Datum](ctx context.Context, pool *dataflow.Pool,
	ops []dataflow.Operator[V], inputs []*dataflow.ZSet[V], keys []dataflow.KeyFunc[V],
) (*dataflow.ZSet[V], error) {
	n := pool.Workers()

	parts := make([][]*dataflow.ZSet[V], len(inputs))
	for i, in := range inputs {
		p, err := dataflow.Partition(in, n, keys[i])
		if err != nil {
			return nil, err
		}
		parts[i] = p
	}

	outs := make([]*dataflow.ZSet[V], n)
	err := pool.Run(ctx, func(shard int) error {
		ins := make([]*dataflow.ZSet[V], len(inputs))
		for i := range inputs {
			ins[i] = parts[i][shard]
		}
		out, err := ops[shard].Process(ins...)
		if err != nil {
			return err
		}
		outs[shard] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dataflow.Merge(outs), nil
}

type readNode[V value.Datum] struct {
	name string
}

func (nd *readNode[V]) eval(_ context.Context, env deltas[V]) (*dataflow.ZSet[V], error) {
	return env.get(nd.name), nil
}

type deriveNode[V value.Datum] struct {
	child node[V]
	pool  *dataflow.Pool
	ops   []dataflow.Operator[V] // per-shard DeriveOp
}

func (nd *deriveNode[V]) eval(ctx context.Context, env deltas[V]) (*dataflow.ZSet[V], error) {
	in, err := nd.child.eval(ctx, env)
	if err != nil {
		return nil, err
	}
	return runSharded(ctx, nd.pool, nd.ops,
		[]*dataflow.ZSet[V]{in}, []dataflow.KeyFunc[V]{nil})
}

type joinNode[V value.Datum] struct {
	left, right       node[V]
	leftKey, rightKey dataflow.KeyFunc[V]
	pool              *dataflow.Pool
	ops               []dataflow.Operator[V] // per-shard IncrementalJoinOp
}

func (nd *joinNode[V]) eval(ctx context.Context, env deltas[V]) (*dataflow.ZSet[V], error) {
	l, err := nd.left.eval(ctx, env)
	if err != nil {
		return nil, err
	}
	r, err := nd.right.eval(ctx, env)
	if err != nil {
		return nil, err
	}
	// Both sides shard by join key, so matching tuples co-locate.
	return runSharded(ctx, nd.pool, nd.ops,
		[]*dataflow.ZSet[V]{l, r}, []dataflow.KeyFunc[V]{nd.leftKey, nd.rightKey})
}

type unionNode[V value.Datum] struct {
	left, right node[V]
	op          *dataflow.AddOp[V]
}

func (nd *unionNode[V]) eval(ctx context.Context, env deltas[V]) (*dataflow.ZSet[V], error) {
	l, err := nd.left.eval(ctx, env)
	if err != nil {
		return nil, err
	}
	r, err := nd.right.eval(ctx, env)
	if err != nil {
		return nil, err
	}
	return nd.op.Process(l, r)
}

type differenceNode[V value.Datum] struct {
	left, right node[V]
	op          *dataflow.SubtractOp[V]
}

func (nd *differenceNode[V]) eval(ctx context.Context, env deltas[V]) (*dataflow.ZSet[V], error) {
	l, err := nd.left.eval(ctx, env)
	if err != nil {
		return nil, err
	}
	r, err := nd.right.eval(ctx, env)
	if err != nil {
		return nil, err
	}
	return nd.op.Process(l, r)
}

type distinctNode[V value.Datum] struct {
	child node[V]
	pool  *dataflow.Pool
	ops   []dataflow.Operator[V] // per-shard IncrementalDistinctOp
}

func (nd *distinctNode[V]) eval(ctx context.Context, env deltas[V]) (*dataflow.ZSet[V], error) {
	in, err := nd.child.eval(ctx, env)
	if err != nil {
		return nil, err
	}
	return runSharded(ctx, nd.pool, nd.ops,
		[]*dataflow.ZSet[V]{in}, []dataflow.KeyFunc[V]{nil})
}

// iterateNode is the explicit fixpoint. Nonlinear, so it is lifted as
// D ∘ fixpoint ∘ I: referenced collections are integrated to snapshots, the
// fixpoint runs to stability on snapshots, and the output is differentiated
// against the previous step's result.
type iterateNode[V value.Datum, E value.Expr[V]] struct {
	name    string
	body    *plan.Plan[V, E]
	refs    []string
	maxIter int

	integrators map[string]*dataflow.IntegratorOp[V]
	differ      *dataflow.DifferentiatorOp[V]
}

func newIterateNode[V value.Datum, E value.Expr[V]](it *plan.IteratePlan[V, E], maxIter int) *iterateNode[V, E] {
	nd := &iterateNode[V, E]{
		name:        it.Name,
		body:        &it.Body,
		refs:        it.Body.References(),
		maxIter:     maxIter,
		integrators: map[string]*dataflow.IntegratorOp[V]{},
		differ:      dataflow.NewDifferentiator[V](),
	}
	for _, ref := range nd.refs {
		nd.integrators[ref] = dataflow.NewIntegrator[V]()
	}
	return nd
}

func (nd *iterateNode[V, E]) eval(_ context.Context, env deltas[V]) (*dataflow.ZSet[V], error) {
	snaps := make(map[string]*dataflow.ZSet[V], len(nd.refs)+1)
	for _, ref := range nd.refs {
		snap, err := nd.integrators[ref].Process(env.get(ref))
		if err != nil {
			return nil, err
		}
		snaps[ref] = snap
	}

	fixed, err := fixpoint(nd.name, nd.body, snaps, nd.maxIter)
	if err != nil {
		return nil, err
	}
	return nd.differ.Process(fixed)
}

// fixpoint evaluates body on snapshots until the bound name stabilizes
// under set semantics.
func fixpoint[V value.Datum, E value.Expr[V]](name string, body *plan.Plan[V, E],
	snaps map[string]*dataflow.ZSet[V], maxIter int,
) (*dataflow.ZSet[V], error) {
	cur := dataflow.NewZSet[V]()
	for round := 0; ; round++ {
		if maxIter > 0 && round >= maxIter {
			return nil, NewConvergenceError(maxIter)
		}
		snaps[name] = cur
		next, err := evalSnapshot(body, snaps)
		if err != nil {
			return nil, err
		}
		next = next.Distinct()
		if next.Subtract(cur).IsZero() {
			return cur, nil
		}
		cur = next
	}
}

// evalSnapshot evaluates a plan over full snapshots with fresh stateless
// operators. Used inside fixpoints, where every round sees whole
// collections rather than deltas.
func evalSnapshot[V value.Datum, E value.Expr[V]](p *plan.Plan[V, E],
	snaps map[string]*dataflow.ZSet[V],
) (*dataflow.ZSet[V], error) {
	switch {
	case p.Read != nil:
		if z, ok := snaps[p.Read.Name]; ok && z != nil {
			return z, nil
		}
		return dataflow.NewZSet[V](), nil

	case p.Derive != nil:
		in, err := evalSnapshot(&p.Derive.Plan, snaps)
		if err != nil {
			return nil, err
		}
		return dataflow.NewDerive[V](newExprEval[V](p.Derive.Exprs)).Process(in)

	case p.Join != nil:
		l, err := evalSnapshot(&p.Join.Left, snaps)
		if err != nil {
			return nil, err
		}
		r, err := evalSnapshot(&p.Join.Right, snaps)
		if err != nil {
			return nil, err
		}
		lk, rk := joinKeys(p.Join.Keys)
		return dataflow.NewJoin[V](lk, rk).Process(l, r)

	case p.Union != nil:
		l, err := evalSnapshot(&p.Union.Left, snaps)
		if err != nil {
			return nil, err
		}
		r, err := evalSnapshot(&p.Union.Right, snaps)
		if err != nil {
			return nil, err
		}
		return dataflow.NewAdd[V]().Process(l, r)

	case p.Difference != nil:
		l, err := evalSnapshot(&p.Difference.Left, snaps)
		if err != nil {
			return nil, err
		}
		r, err := evalSnapshot(&p.Difference.Right, snaps)
		if err != nil {
			return nil, err
		}
		return dataflow.NewSubtract[V]().Process(l, r)

	case p.Distinct != nil:
		in, err := evalSnapshot(p.Distinct, snaps)
		if err != nil {
			return nil, err
		}
		return dataflow.NewDistinct[V]().Process(in)

	case p.Iterate != nil:
		inner := make(map[string]*dataflow.ZSet[V], len(snaps))
		for k, v := range snaps {
			inner[k] = v
		}
		return fixpoint(p.Iterate.Name, &p.Iterate.Body, inner, 0)
	}

	return nil, plan.NewValidationError("empty plan", nil)
}
