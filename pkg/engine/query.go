package engine

import (
	"context"

	"l7mp.io/interactive-engine/pkg/command"
	"l7mp.io/interactive-engine/pkg/dataflow"
	"l7mp.io/interactive-engine/pkg/manager"
	"l7mp.io/interactive-engine/pkg/value"
)

// State is the lifecycle state of a submitted query.
type State int

const (
	// Submitted: received, not yet checked.
	Submitted State = iota
	// Validated: checks passed, dataflow not yet built.
	Validated
	// Installed: dataflow live, maintained on every step.
	Installed
	// Retracted: uninstalled on request, references released.
	Retracted
	// Failed: a runtime evaluation fault removed the query from service.
	Failed
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Validated:
		return "validated"
	case Installed:
		return "installed"
	case Retracted:
		return "retracted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// compiledRule is one rule's live operator tree. Recursive rules carry
// per-shard incremental distinct instances applied to every round's output.
type compiledRule[V value.Datum] struct {
	name     string
	arity    int
	root     node[V]
	distinct []dataflow.Operator[V]
}

// component groups the rules of one strongly connected component, in query
// rule order.
type component[V value.Datum] struct {
	rules     []*compiledRule[V]
	recursive bool
}

// publishSpec is one resolved publish binding. fromRule publishes carry the
// query's own deltas; shared publishes only hold a reference on an existing
// arrangement.
type publishSpec[V value.Datum] struct {
	name     string
	keys     []int
	fromRule bool
	arr      *manager.Arrangement[V]
}

// installedQuery is the engine-side record of one submitted query.
type installedQuery[V value.Datum, E value.Expr[V]] struct {
	id    string
	state State
	spec  command.Query[V, E]

	comps     []component[V]
	imports   []string
	publishes []publishSpec[V]
	inputRefs []string
}

// evaluate runs one pass over the query's rules. env carries the external
// deltas visible in this pass and is extended with every rule's delta.
// Recursive components run semi-naive rounds: external deltas feed round
// zero only, later rounds see nothing but the previous round's rule deltas,
// and the loop ends when a round yields no new delta.
func (q *installedQuery[V, E]) evaluate(ctx context.Context, pool *dataflow.Pool, maxIter int, env deltas[V]) error {
	for _, comp := range q.comps {
		if !comp.recursive {
			for _, r := range comp.rules {
				d, err := r.root.eval(ctx, env)
				if err != nil {
					return NewEvalError(q.id, r.name, err)
				}
				env[r.name] = d
			}
			continue
		}

		totals := make(deltas[V], len(comp.rules))
		for _, r := range comp.rules {
			totals[r.name] = dataflow.NewZSet[V]()
		}

		roundEnv := make(deltas[V], len(env))
		for k, v := range env {
			roundEnv[k] = v
		}

		for round := 0; ; round++ {
			if maxIter > 0 && round >= maxIter {
				return NewEvalError(q.id, comp.rules[0].name, NewConvergenceError(maxIter))
			}

			next := make(deltas[V], len(comp.rules))
			progress := false
			for _, r := range comp.rules {
				out, err := r.root.eval(ctx, roundEnv)
				if err != nil {
					return NewEvalError(q.id, r.name, err)
				}
				d, err := runSharded(ctx, pool, r.distinct,
					[]*dataflow.ZSet[V]{out}, []dataflow.KeyFunc[V]{nil})
				if err != nil {
					return NewEvalError(q.id, r.name, err)
				}
				next[r.name] = d
				totals[r.name].AddMutate(d)
				if !d.IsZero() {
					progress = true
				}
			}
			if !progress {
				break
			}
			roundEnv = next
		}

		for _, r := range comp.rules {
			env[r.name] = totals[r.name]
		}
	}
	return nil
}
