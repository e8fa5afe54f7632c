package engine

import (
	"fmt"

	"l7mp.io/interactive-engine/pkg/command"
	"l7mp.io/interactive-engine/pkg/manager"
	"l7mp.io/interactive-engine/pkg/plan"
	"l7mp.io/interactive-engine/pkg/value"
)

// resolvedQuery is the outcome of validation: every readable name with its
// arity, plus the classified import/publish bindings. Produced without
// touching manager state, so a failed validation has no side effects.
type resolvedQuery struct {
	arities   map[string]int
	ruleNames map[string]bool
	imports   []string
	inputRefs []string
	publishes []resolvedPublish
}

type resolvedPublish struct {
	name     string
	keys     []int
	arity    int
	fromRule bool
}

// validateQuery checks a query against the current registries: unique rule
// names, resolvable reads, inferable arities, in-bounds expressions and key
// columns. Read-only on the manager.
func validateQuery[V value.Datum, E value.Expr[V]](mgr *manager.Manager[V], q command.Query[V, E]) (*resolvedQuery, error) {
	res := &resolvedQuery{
		arities:   map[string]int{},
		ruleNames: map[string]bool{},
	}

	for _, r := range q.Rules {
		if r.Name == "" {
			return nil, plan.NewValidationError("rule with empty name", nil)
		}
		if res.ruleNames[r.Name] {
			return nil, plan.NewValidationError(fmt.Sprintf("duplicate rule name %q", r.Name), nil)
		}
		res.ruleNames[r.Name] = true
		res.arities[r.Name] = plan.UnknownArity
	}

	// Imports bind external arrangement names into the query's read scope.
	seenImport := map[string]bool{}
	for _, b := range q.Imports {
		name, err := bindingName(&b.Plan, "import")
		if err != nil {
			return nil, err
		}
		if res.ruleNames[name] {
			return nil, plan.NewValidationError(
				fmt.Sprintf("import name %q collides with a rule name", name), nil)
		}
		arr, ok := mgr.GetArrangement(name)
		if !ok {
			return nil, plan.NewValidationError(
				fmt.Sprintf("import of unregistered arrangement %q", name),
				manager.NewNotFoundError(name))
		}
		if err := checkKeys(b.Keys, arr.Arity(), "import", name); err != nil {
			return nil, err
		}
		res.arities[name] = arr.Arity()
		if !seenImport[name] {
			seenImport[name] = true
			res.imports = append(res.imports, name)
		}
	}

	// Remaining reads must be rules, imports, or registered raw inputs.
	seenInput := map[string]bool{}
	for _, r := range q.Rules {
		for _, ref := range r.Plan.References() {
			if _, known := res.arities[ref]; known {
				continue
			}
			in, ok := mgr.GetInput(ref)
			if !ok {
				return nil, plan.NewValidationError(
					fmt.Sprintf("rule %q reads unresolved collection %q", r.Name, ref), nil)
			}
			res.arities[ref] = in.Arity()
			if !seenInput[ref] {
				seenInput[ref] = true
				res.inputRefs = append(res.inputRefs, ref)
			}
		}
	}

	// Arity inference to fixpoint: recursive references start unknown and
	// settle over rounds.
	resolve := func(name string) (int, bool) {
		a, ok := res.arities[name]
		return a, ok
	}
	for round := 0; round <= len(q.Rules); round++ {
		changed := false
		for _, r := range q.Rules {
			a, err := r.Plan.Arity(resolve)
			if err != nil {
				return nil, err
			}
			if a != res.arities[r.Name] {
				res.arities[r.Name] = a
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	for _, r := range q.Rules {
		if res.arities[r.Name] == plan.UnknownArity {
			return nil, plan.NewValidationError(
				fmt.Sprintf("cannot infer arity of rule %q", r.Name), nil)
		}
	}
	// One more pass with every arity known, so deferred bounds checks run.
	for _, r := range q.Rules {
		if _, err := r.Plan.Arity(resolve); err != nil {
			return nil, err
		}
	}

	for _, b := range q.Publish {
		name, err := bindingName(&b.Plan, "publish")
		if err != nil {
			return nil, err
		}
		if res.ruleNames[name] {
			arity := res.arities[name]
			if err := checkKeys(b.Keys, arity, "publish", name); err != nil {
				return nil, err
			}
			// Publishing under an already-registered name shares the
			// existing arrangement, so the shapes must agree up front.
			if arr, ok := mgr.GetArrangement(name); ok {
				if arr.Arity() != arity || !equalInts(arr.Keys(), b.Keys) {
					return nil, plan.NewValidationError(
						fmt.Sprintf("publish of %q conflicts with the registered arrangement's shape", name), nil)
				}
			}
			res.publishes = append(res.publishes, resolvedPublish{
				name: name, keys: b.Keys, arity: arity, fromRule: true,
			})
			continue
		}
		arr, ok := mgr.GetArrangement(name)
		if !ok {
			return nil, plan.NewValidationError(
				fmt.Sprintf("publish of %q resolves to neither a rule nor a registered arrangement", name), nil)
		}
		if err := checkKeys(b.Keys, arr.Arity(), "publish", name); err != nil {
			return nil, err
		}
		res.publishes = append(res.publishes, resolvedPublish{
			name: name, keys: b.Keys, arity: arr.Arity(), fromRule: false,
		})
	}

	return res, nil
}

// bindingName extracts the collection name an import/publish binding
// resolves to. Bindings must be plain reads.
func bindingName[V value.Datum, E value.Expr[V]](p *plan.Plan[V, E], kind string) (string, error) {
	if p.Read == nil {
		return "", plan.NewValidationError(
			fmt.Sprintf("%s binding must read a named collection, got %q plan", kind, p.Kind()), nil)
	}
	return p.Read.Name, nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkKeys(keys []int, arity int, kind, name string) error {
	for _, k := range keys {
		if k < 0 || k >= arity {
			return plan.NewValidationError(
				fmt.Sprintf("%s of %q: key column %d out of range for arity %d", kind, name, k, arity),
				value.NewOutOfBoundsError(k, arity))
		}
	}
	return nil
}
