package plan

import (
	"fmt"

	"l7mp.io/interactive-engine/pkg/value"
)

// UnknownArity marks collections whose arity cannot be determined yet, such
// as recursive references before the fixpoint of arity inference.
const UnknownArity = -1

// Resolver reports the arity of a named collection, false when the name is
// unknown.
type Resolver func(name string) (int, bool)

// Arity infers the output arity of the plan, validating expression bounds
// and sub-plan compatibility along the way. Bounds checks against inputs of
// unknown arity are deferred to a later inference round.
func (p Plan[V, E]) Arity(resolve Resolver) (int, error) {
	if n := p.variants(); n != 1 {
		return 0, NewValidationError(fmt.Sprintf("plan must have exactly one variant, has %d", n), nil)
	}

	switch {
	case p.Read != nil:
		arity, ok := resolve(p.Read.Name)
		if !ok {
			return 0, NewValidationError(fmt.Sprintf("unresolved collection reference %q", p.Read.Name), nil)
		}
		return arity, nil

	case p.Derive != nil:
		sub, err := p.Derive.Plan.Arity(resolve)
		if err != nil {
			return 0, err
		}
		if sub != UnknownArity {
			for _, e := range p.Derive.Exprs {
				if e.Bound() > sub {
					return 0, NewValidationError(
						fmt.Sprintf("derivation expression %s exceeds input arity", e),
						value.NewOutOfBoundsError(e.Bound()-1, sub))
				}
			}
		}
		return len(p.Derive.Exprs), nil

	case p.Join != nil:
		left, err := p.Join.Left.Arity(resolve)
		if err != nil {
			return 0, err
		}
		right, err := p.Join.Right.Arity(resolve)
		if err != nil {
			return 0, err
		}
		for _, k := range p.Join.Keys {
			if left != UnknownArity && k.Left.Bound() > left {
				return 0, NewValidationError(
					fmt.Sprintf("join key %s exceeds left arity", k.Left),
					value.NewOutOfBoundsError(k.Left.Bound()-1, left))
			}
			if right != UnknownArity && k.Right.Bound() > right {
				return 0, NewValidationError(
					fmt.Sprintf("join key %s exceeds right arity", k.Right),
					value.NewOutOfBoundsError(k.Right.Bound()-1, right))
			}
		}
		if left == UnknownArity || right == UnknownArity {
			return UnknownArity, nil
		}
		return left + right, nil

	case p.Union != nil:
		return sameArity[V, E](&p.Union.Left, &p.Union.Right, "union", resolve)

	case p.Difference != nil:
		return sameArity[V, E](&p.Difference.Left, &p.Difference.Right, "difference", resolve)

	case p.Distinct != nil:
		return p.Distinct.Arity(resolve)

	case p.Iterate != nil:
		bound := p.Iterate.Name
		// First round: the loop variable's arity is unknown.
		shadowed := func(name string) (int, bool) {
			if name == bound {
				return UnknownArity, true
			}
			return resolve(name)
		}
		arity, err := p.Iterate.Body.Arity(shadowed)
		if err != nil {
			return 0, err
		}
		if arity == UnknownArity {
			return UnknownArity, nil
		}
		// Second round with the loop variable bound, for bounds checks.
		closed := func(name string) (int, bool) {
			if name == bound {
				return arity, true
			}
			return resolve(name)
		}
		if _, err := p.Iterate.Body.Arity(closed); err != nil {
			return 0, err
		}
		return arity, nil
	}

	return 0, NewValidationError("empty plan", nil)
}

func sameArity[V value.Datum, E value.Expr[V]](left, right *Plan[V, E], kind string, resolve Resolver) (int, error) {
	l, err := left.Arity(resolve)
	if err != nil {
		return 0, err
	}
	r, err := right.Arity(resolve)
	if err != nil {
		return 0, err
	}
	if l == UnknownArity {
		return r, nil
	}
	if r == UnknownArity {
		return l, nil
	}
	if l != r {
		return 0, NewValidationError(fmt.Sprintf("%s of incompatible arities %d and %d", kind, l, r), nil)
	}
	return l, nil
}

// References lists the collection names the plan reads, in first-appearance
// order, excluding names bound by enclosing iterate nodes.
func (p *Plan[V, E]) References() []string {
	var refs []string
	seen := map[string]bool{}
	p.collectReferences(map[string]bool{}, seen, &refs)
	return refs
}

func (p *Plan[V, E]) collectReferences(bound, seen map[string]bool, refs *[]string) {
	switch {
	case p.Read != nil:
		name := p.Read.Name
		if !bound[name] && !seen[name] {
			seen[name] = true
			*refs = append(*refs, name)
		}
	case p.Derive != nil:
		p.Derive.Plan.collectReferences(bound, seen, refs)
	case p.Join != nil:
		p.Join.Left.collectReferences(bound, seen, refs)
		p.Join.Right.collectReferences(bound, seen, refs)
	case p.Union != nil:
		p.Union.Left.collectReferences(bound, seen, refs)
		p.Union.Right.collectReferences(bound, seen, refs)
	case p.Difference != nil:
		p.Difference.Left.collectReferences(bound, seen, refs)
		p.Difference.Right.collectReferences(bound, seen, refs)
	case p.Distinct != nil:
		p.Distinct.collectReferences(bound, seen, refs)
	case p.Iterate != nil:
		inner := map[string]bool{}
		for k := range bound {
			inner[k] = true
		}
		inner[p.Iterate.Name] = true
		p.Iterate.Body.collectReferences(inner, seen, refs)
	}
}
