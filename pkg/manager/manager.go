// Package manager implements the process-wide registries mapping stable
// names to live incrementally maintained state: raw inputs accepting diff
// batches, and arrangements shared across installed queries with
// reference-counted lifecycles. A name maps to exactly one live entry at a
// time; concurrent creation resolves to a single winner.
package manager

import (
	"sort"

	"github.com/go-logr/logr"
	"github.com/puzpuzpuz/xsync/v3"

	"l7mp.io/interactive-engine/pkg/value"
)

// Manager bundles the input and trace registries.
type Manager[V value.Datum] struct {
	inputs *xsync.MapOf[string, *InputHandle[V]]
	traces *xsync.MapOf[string, *Arrangement[V]]

	metrics *Metrics
	log     logr.Logger
}

// New creates an empty manager.
func New[V value.Datum](log logr.Logger) *Manager[V] {
	return &Manager[V]{
		inputs:  xsync.NewMapOf[string, *InputHandle[V]](),
		traces:  xsync.NewMapOf[string, *Arrangement[V]](),
		metrics: newMetrics(),
		log:     log.WithName("manager"),
	}
}

// GetOrCreateInput returns the input registered under the name, creating it
// when absent. Under concurrent creation the first writer wins and every
// caller receives the winner's handle.
func (m *Manager[V]) GetOrCreateInput(name string, arity int) (*InputHandle[V], error) {
	handle, loaded := m.inputs.LoadOrCompute(name, func() *InputHandle[V] {
		return &InputHandle[V]{name: name, arity: arity, ingested: m.metrics.updatesIngested}
	})
	if loaded && handle.arity != arity {
		return nil, NewConflictError(name, "input arity mismatch")
	}
	if !loaded {
		m.log.V(2).Info("input created", "name", name, "arity", arity)
	}
	return handle, nil
}

// GetInput returns a registered input handle.
func (m *Manager[V]) GetInput(name string) (*InputHandle[V], bool) {
	return m.inputs.Load(name)
}

// DropInput removes an input from the registry. Queued updates are
// discarded.
func (m *Manager[V]) DropInput(name string) {
	m.inputs.Delete(name)
}

// GetArrangement returns a registered arrangement handle without touching
// its refcount.
func (m *Manager[V]) GetArrangement(name string) (*Arrangement[V], bool) {
	return m.traces.Load(name)
}

// Import resolves a name to its arrangement and takes a reference. Lookup
// of an unregistered name fails with a NotFoundError.
func (m *Manager[V]) Import(name string) (*Arrangement[V], error) {
	arr, ok := m.traces.Load(name)
	if !ok {
		return nil, NewNotFoundError(name)
	}
	arr.acquire()
	return arr, nil
}

// RegisterPublish registers an arrangement under a name and takes a
// reference. Idempotent: when the name is already registered the existing
// handle is shared, provided its shape matches; under concurrent
// registration the first writer wins and losers share the winner's entry.
func (m *Manager[V]) RegisterPublish(name string, arity int, keys []int) (*Arrangement[V], error) {
	arr, loaded := m.traces.LoadOrCompute(name, func() *Arrangement[V] {
		return newArrangement[V](name, arity, keys)
	})
	if loaded {
		if arr.arity != arity {
			return nil, NewConflictError(name, "arrangement arity mismatch")
		}
		if !equalKeys(arr.keys, keys) {
			return nil, NewConflictError(name, "arrangement key columns mismatch")
		}
	} else {
		m.log.V(2).Info("arrangement created", "name", name, "arity", arity, "keys", keys)
	}
	arr.acquire()
	return arr, nil
}

// Release drops one reference to a named arrangement. The entry becomes
// eligible for garbage collection at refcount zero; reclamation happens at
// the next Gc pass, not synchronously.
func (m *Manager[V]) Release(name string) {
	if arr, ok := m.traces.Load(name); ok {
		arr.release()
	}
}

// Gc sweeps arrangements whose refcount reached zero. In-flight consumers
// of an already-released arrangement keep their handle; only the registry
// entry disappears.
func (m *Manager[V]) Gc() int {
	collected := 0
	m.traces.Range(func(name string, arr *Arrangement[V]) bool {
		if arr.refcount.Load() <= 0 {
			m.traces.Delete(name)
			m.metrics.arrangementsCollected.Inc()
			m.log.V(2).Info("arrangement collected", "name", name)
			collected++
		}
		return true
	})
	return collected
}

// InputNames lists registered input names, sorted.
func (m *Manager[V]) InputNames() []string {
	var names []string
	m.inputs.Range(func(name string, _ *InputHandle[V]) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// ArrangementNames lists registered arrangement names, sorted.
func (m *Manager[V]) ArrangementNames() []string {
	var names []string
	m.traces.Range(func(name string, _ *Arrangement[V]) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

func equalKeys(a, b []int) bool {
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
