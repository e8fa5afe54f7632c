// Package engine implements the plan interpreter: it validates submitted
// commands against the live registries, installs query plans directly as
// stateful operator subgraphs without a compilation step, and advances the
// whole computation in discrete steps as input diffs arrive.
package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"l7mp.io/interactive-engine/internal/depgraph"
	"l7mp.io/interactive-engine/pkg/command"
	"l7mp.io/interactive-engine/pkg/dataflow"
	"l7mp.io/interactive-engine/pkg/manager"
	"l7mp.io/interactive-engine/pkg/plan"
	"l7mp.io/interactive-engine/pkg/value"
)

// Engine binds plans to the incremental substrate. All mutation funnels
// through the engine's lock: installs, retractions and steps are serialized
// so no reader ever observes a half-installed graph or a half-applied time.
type Engine[V value.Datum, E value.Expr[V]] struct {
	mgr  *manager.Manager[V]
	pool *dataflow.Pool
	log  logr.Logger

	maxIterations int

	mu       sync.Mutex
	frontier value.Time
	inputs   map[string]*dataflow.IntegratorOp[V] // drained input history
	queries  map[string]*installedQuery[V, E]
	order    []string // live queries in install order
}

// Option configures an engine.
type Option func(*config)

type config struct {
	workers       int
	maxIterations int
	log           logr.Logger
}

// WithWorkers sets the number of worker shards stateful operators are
// split across. Defaults to the number of CPUs.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithMaxIterations bounds fixpoint rounds; recursion exceeding the bound
// fails the owning query. Zero means unbounded.
func WithMaxIterations(n int) Option {
	return func(c *config) { c.maxIterations = n }
}

// WithLogger sets the engine's logger.
func WithLogger(log logr.Logger) Option {
	return func(c *config) { c.log = log }
}

// New creates an engine over a manager.
func New[V value.Datum, E value.Expr[V]](mgr *manager.Manager[V], opts ...Option) *Engine[V, E] {
	cfg := config{log: logr.Discard()}
	for _, o := range opts {
		o(&cfg)
	}
	return &Engine[V, E]{
		mgr:           mgr,
		pool:          dataflow.NewPool(cfg.workers),
		log:           cfg.log.WithName("engine"),
		maxIterations: cfg.maxIterations,
		inputs:        map[string]*dataflow.IntegratorOp[V]{},
		queries:       map[string]*installedQuery[V, E]{},
	}
}

// Result reports the outcome of a command.
type Result struct {
	// ID identifies the installed query, set for query commands.
	ID string
	// Inputs and Arrangements list registered names, set for list commands.
	Inputs       []string
	Arrangements []string
}

// Do dispatches one decoded command. Query commands install atomically:
// validation failures leave every registry unchanged.
func (e *Engine[V, E]) Do(ctx context.Context, cmd command.Command[V, E]) (*Result, error) {
	switch cmd.Kind() {
	case "query":
		id, err := e.InstallQuery(ctx, *cmd.Query)
		if err != nil {
			return nil, err
		}
		return &Result{ID: id}, nil
	case "retract":
		if err := e.RetractQuery(cmd.Retract.ID); err != nil {
			return nil, err
		}
		return &Result{ID: cmd.Retract.ID}, nil
	case "list":
		return &Result{
			Inputs:       e.mgr.InputNames(),
			Arrangements: e.mgr.ArrangementNames(),
		}, nil
	}
	return nil, plan.NewValidationError("command must have exactly one variant", nil)
}

// InstallQuery validates and installs a query, returning its id. The new
// subgraph is hydrated with the current consolidated state of everything it
// reads, so its publishes immediately reflect the full input history.
func (e *Engine[V, E]) InstallQuery(ctx context.Context, q command.Query[V, E]) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := validateQuery(e.mgr, q)
	if err != nil {
		return "", err
	}

	iq := &installedQuery[V, E]{
		id:        uuid.NewString(),
		state:     Validated,
		spec:      q,
		imports:   res.imports,
		inputRefs: res.inputRefs,
	}
	if err := e.compileQuery(iq, q, res); err != nil {
		return "", err
	}

	// Registry mutation starts here; released again on any failure.
	var acquired []string
	rollback := func() {
		for _, name := range acquired {
			e.mgr.Release(name)
		}
	}
	for _, name := range res.imports {
		if _, err := e.mgr.Import(name); err != nil {
			rollback()
			return "", err
		}
		acquired = append(acquired, name)
	}
	for _, p := range res.publishes {
		arr, err := e.mgr.RegisterPublish(p.name, p.arity, p.keys)
		if err != nil {
			rollback()
			return "", err
		}
		acquired = append(acquired, p.name)
		iq.publishes = append(iq.publishes, publishSpec[V]{
			name: p.name, keys: p.keys, fromRule: p.fromRule, arr: arr,
		})
	}

	if err := e.hydrate(ctx, iq); err != nil {
		rollback()
		return "", err
	}

	iq.state = Installed
	e.queries[iq.id] = iq
	e.order = append(e.order, iq.id)
	e.log.V(2).Info("query installed", "id", iq.id,
		"rules", len(q.Rules), "imports", len(res.imports), "publishes", len(res.publishes))
	return iq.id, nil
}

// compileQuery renders the rules into components of compiled operator
// trees, ordered so every component follows the components it reads.
func (e *Engine[V, E]) compileQuery(iq *installedQuery[V, E], q command.Query[V, E], res *resolvedQuery) error {
	compiled := map[string]*compiledRule[V]{}
	g := depgraph.New()
	for _, r := range q.Rules {
		g.AddNode(r.Name)
		for _, ref := range r.Plan.References() {
			if res.ruleNames[ref] {
				g.AddEdge(r.Name, ref)
			}
		}

		r := r
		root, err := compilePlan(&r.Plan, e.pool, e.maxIterations)
		if err != nil {
			return err
		}
		compiled[r.Name] = &compiledRule[V]{
			name:  r.Name,
			arity: res.arities[r.Name],
			root:  root,
		}
	}

	for _, c := range g.Condense() {
		members := map[string]bool{}
		for _, m := range c.Members {
			members[m] = true
		}
		comp := component[V]{recursive: c.Recursive}
		// Query rule order within the component.
		for _, r := range q.Rules {
			if !members[r.Name] {
				continue
			}
			cr := compiled[r.Name]
			if c.Recursive {
				cr.distinct = make([]dataflow.Operator[V], e.pool.Workers())
				for i := range cr.distinct {
					cr.distinct[i] = dataflow.NewIncrementalDistinct[V]()
				}
			}
			comp.rules = append(comp.rules, cr)
		}
		iq.comps = append(iq.comps, comp)
	}
	return nil
}

// hydrate primes a fresh subgraph with the consolidated history of its
// reads, as one initial delta at the current frontier.
func (e *Engine[V, E]) hydrate(ctx context.Context, iq *installedQuery[V, E]) error {
	env := deltas[V]{}
	for _, name := range iq.inputRefs {
		if integ, ok := e.inputs[name]; ok {
			env[name] = integ.State()
		}
	}
	for _, name := range iq.imports {
		if arr, ok := e.mgr.GetArrangement(name); ok {
			env[name] = arr.Snapshot()
		}
	}

	if err := iq.evaluate(ctx, e.pool, e.maxIterations, env); err != nil {
		return err
	}
	for _, p := range iq.publishes {
		if !p.fromRule {
			continue
		}
		p.arr.Append(dataflow.Batch[V]{Time: e.frontier, Delta: env.get(p.name)})
	}
	return nil
}

// RetractQuery uninstalls a query: its import and publish references are
// released and orphaned arrangements become eligible for the next lazy
// collection pass.
func (e *Engine[V, E]) RetractQuery(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	iq, ok := e.queries[id]
	if !ok || iq.state != Installed {
		return NewNotInstalledError(id)
	}
	e.releaseLocked(iq)
	iq.state = Retracted
	e.log.V(2).Info("query retracted", "id", id)
	return nil
}

func (e *Engine[V, E]) releaseLocked(iq *installedQuery[V, E]) {
	for _, name := range iq.imports {
		e.mgr.Release(name)
	}
	for _, p := range iq.publishes {
		e.mgr.Release(p.name)
	}
}

// Status reports a submitted query's lifecycle state.
func (e *Engine[V, E]) Status(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	iq, ok := e.queries[id]
	if !ok {
		return Submitted, false
	}
	return iq.state, true
}

// Frontier returns the time up to which every published result is complete.
func (e *Engine[V, E]) Frontier() value.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frontier
}

// stepOrder returns the live queries ordered so every publisher evaluates
// before the queries importing its arrangement, whatever their install
// order. Independent and mutually dependent queries keep install order
// among themselves.
func (e *Engine[V, E]) stepOrder() []string {
	pos := map[string]int{}
	publishers := map[string][]string{}
	for i, id := range e.order {
		pos[id] = i
		iq := e.queries[id]
		if iq.state != Installed {
			continue
		}
		for _, p := range iq.publishes {
			if p.fromRule {
				publishers[p.name] = append(publishers[p.name], id)
			}
		}
	}

	g := depgraph.New()
	for _, id := range e.order {
		iq := e.queries[id]
		if iq.state != Installed {
			continue
		}
		g.AddNode(id)
		for _, name := range iq.imports {
			for _, pub := range publishers[name] {
				if pub != id {
					g.AddEdge(id, pub)
				}
			}
		}
	}

	var order []string
	for _, c := range g.Condense() {
		members := append([]string(nil), c.Members...)
		sort.Slice(members, func(i, j int) bool { return pos[members[i]] < pos[members[j]] })
		order = append(order, members...)
	}
	return order
}

// Step advances the computation to now: every input batch with time below
// now is drained and applied in time order through the installed queries,
// publish deltas land on their arrangements at the batch's time, and
// frontiers advance to now. A time becomes visible only when every query
// and every shard finished it. Evaluation faults are scoped to the owning
// query; the step continues for the rest.
func (e *Engine[V, E]) Step(ctx context.Context, now value.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	perTime := map[value.Time]deltas[V]{}
	for _, name := range e.mgr.InputNames() {
		in, ok := e.mgr.GetInput(name)
		if !ok {
			continue
		}
		for _, b := range in.Drain(now) {
			integ, ok := e.inputs[name]
			if !ok {
				integ = dataflow.NewIntegrator[V]()
				e.inputs[name] = integ
			}
			if _, err := integ.Process(b.Delta); err != nil {
				return err
			}

			// An update timed at or below the frontier cannot change a
			// time already declared complete; it takes effect at this
			// step's frontier instead.
			t := b.Time
			if t <= e.frontier {
				e.log.V(2).Info("late update re-timed", "input", name, "from", b.Time, "to", now)
				t = now
			}
			env, ok := perTime[t]
			if !ok {
				env = deltas[V]{}
				perTime[t] = env
			}
			if d, ok := env[name]; ok {
				d.AddMutate(b.Delta)
			} else {
				env[name] = b.Delta
			}
		}
	}

	times := make([]value.Time, 0, len(perTime))
	for t := range perTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	order := e.stepOrder()
	for _, t := range times {
		published := deltas[V]{}
		for _, id := range order {
			iq := e.queries[id]
			if iq.state != Installed {
				continue
			}

			env := deltas[V]{}
			for name, d := range perTime[t] {
				env[name] = d
			}
			// Publisher before importer: deltas published earlier in this
			// time are visible to later queries.
			for _, name := range iq.imports {
				if d, ok := published[name]; ok {
					env[name] = d
				}
			}

			if err := iq.evaluate(ctx, e.pool, e.maxIterations, env); err != nil {
				e.log.Error(err, "query failed, removing from service", "id", id)
				e.releaseLocked(iq)
				iq.state = Failed
				continue
			}

			for _, p := range iq.publishes {
				if !p.fromRule {
					continue
				}
				d := env.get(p.name)
				if d.IsZero() {
					continue
				}
				p.arr.Append(dataflow.Batch[V]{Time: t, Delta: d})
				published[p.name] = published.get(p.name).Add(d)
			}
		}
	}

	// Advance every live publish frontier to now, batches or not.
	for _, id := range e.order {
		iq := e.queries[id]
		if iq.state != Installed {
			continue
		}
		for _, p := range iq.publishes {
			p.arr.Append(dataflow.Batch[V]{Time: now})
		}
	}
	e.frontier = now

	if n := e.mgr.Gc(); n > 0 {
		e.log.V(4).Info("collected arrangements", "count", n)
	}
	return nil
}
