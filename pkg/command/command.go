// Package command defines the administrative protocol between clients and
// a running engine: named rules bundled into queries, and the extensible
// command envelope that ships them. Everything here is plain data with a
// lossless JSON encoding; equality and hashing of a decoded value match the
// original's.
package command

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	"l7mp.io/interactive-engine/pkg/plan"
	"l7mp.io/interactive-engine/pkg/value"
)

// Rule binds a name to a plan. The name identifies the rule's output inside
// the enclosing query's recursive-reference scope.
type Rule[V value.Datum, E value.Expr[V]] struct {
	Name string          `json:"name"`
	Plan plan.Plan[V, E] `json:"plan"`
}

// IntoQuery converts the rule into a singleton query.
func (r Rule[V, E]) IntoQuery() Query[V, E] {
	return NewQuery[V, E]().AddRule(r)
}

// Binding pairs a plan with the column indices that define an arrangement's
// key: the referenced collection is indexed, not merely a flat collection.
type Binding[V value.Datum, E value.Expr[V]] struct {
	Plan plan.Plan[V, E] `json:"plan"`
	Keys []int           `json:"keys"`
}

// Query is the unit a client submits: a list of rules plus the external
// arrangements it imports and the internal results it publishes. Insertion
// order is preserved and is part of the value's identity.
type Query[V value.Datum, E value.Expr[V]] struct {
	Rules   []Rule[V, E]    `json:"rules"`
	Imports []Binding[V, E] `json:"imports"`
	Publish []Binding[V, E] `json:"publish"`
}

// NewQuery creates a new, empty query.
func NewQuery[V value.Datum, E value.Expr[V]]() Query[V, E] {
	return Query[V, E]{
		Rules:   []Rule[V, E]{},
		Imports: []Binding[V, E]{},
		Publish: []Binding[V, E]{},
	}
}

// AddRule adds a rule to an existing query.
func (q Query[V, E]) AddRule(rule Rule[V, E]) Query[V, E] {
	q.Rules = append(q.Rules, rule)
	return q
}

// AddImport adds an external arrangement to import, keyed by the given
// columns.
func (q Query[V, E]) AddImport(p plan.Plan[V, E], keys []int) Query[V, E] {
	q.Imports = append(q.Imports, Binding[V, E]{Plan: p, Keys: keys})
	return q
}

// AddPublish designates an internal plan whose result becomes an externally
// visible arrangement, keyed by the given columns.
func (q Query[V, E]) AddPublish(p plan.Plan[V, E], keys []int) Query[V, E] {
	q.Publish = append(q.Publish, Binding[V, E]{Plan: p, Keys: keys})
	return q
}

// IntoCommand wraps the query in the command envelope.
func (q Query[V, E]) IntoCommand() Command[V, E] {
	return Command[V, E]{Query: &q}
}

// Retract uninstalls a previously installed query, releasing its import and
// publish references.
type Retract struct {
	ID string `json:"id"`
}

// List requests the names currently registered with the manager. Read-only.
type List struct{}

// Command is the protocol envelope. Exactly one variant field is set; the
// envelope is open for further administrative operations.
type Command[V value.Datum, E value.Expr[V]] struct {
	Query   *Query[V, E] `json:"query,omitempty"`
	Retract *Retract     `json:"retract,omitempty"`
	List    *List        `json:"list,omitempty"`
}

// Kind reports the variant tag, empty for an unset command.
func (c *Command[V, E]) Kind() string {
	switch {
	case c.Query != nil:
		return "query"
	case c.Retract != nil:
		return "retract"
	case c.List != nil:
		return "list"
	}
	return ""
}

func (c *Command[V, E]) variants() int {
	n := 0
	for _, set := range []bool{c.Query != nil, c.Retract != nil, c.List != nil} {
		if set {
			n++
		}
	}
	return n
}

// String renders the query as its JSON encoding.
func (q Query[V, E]) String() string {
	b, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	return string(b)
}

// Equal compares two queries structurally. Rule, import and publish order
// matter.
func (q Query[V, E]) Equal(other Query[V, E]) bool {
	return q.String() == other.String()
}

// Fingerprint returns a 64-bit structural hash of the query.
func (q Query[V, E]) Fingerprint() uint64 {
	return xxhash.Sum64String(q.String())
}

// String renders the command as its JSON encoding.
func (c Command[V, E]) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}

// Equal compares two commands structurally.
func (c Command[V, E]) Equal(other Command[V, E]) bool {
	return c.String() == other.String()
}

// Fingerprint returns a 64-bit structural hash of the command.
func (c Command[V, E]) Fingerprint() uint64 {
	return xxhash.Sum64String(c.String())
}
