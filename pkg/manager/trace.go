package manager

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"l7mp.io/interactive-engine/pkg/dataflow"
	"l7mp.io/interactive-engine/pkg/value"
)

// snapshotCacheSize bounds the per-arrangement cache of consolidated read
// snapshots. Reads cluster around the frontier, so a handful of entries
// absorbs almost all repeated reads.
const snapshotCacheSize = 8

// Arrangement is an incrementally maintained, indexed collection shared
// across consumers. Publishers append per-time delta batches; importers read
// consolidated snapshots at or below the frontier. The refcount tracks the
// set of queries currently publishing or importing it.
type Arrangement[V value.Datum] struct {
	name  string
	arity int
	keys  []int

	refcount atomic.Int32

	mu       sync.RWMutex
	frontier value.Time
	history  []dataflow.Batch[V]

	snapshots *lru.Cache[value.Time, *dataflow.ZSet[V]]
}

func newArrangement[V value.Datum](name string, arity int, keys []int) *Arrangement[V] {
	cache, _ := lru.New[value.Time, *dataflow.ZSet[V]](snapshotCacheSize)
	return &Arrangement[V]{
		name:      name,
		arity:     arity,
		keys:      keys,
		snapshots: cache,
	}
}

// Name returns the arrangement's registered name.
func (a *Arrangement[V]) Name() string { return a.name }

// Arity returns the tuple arity of the arranged collection.
func (a *Arrangement[V]) Arity() int { return a.arity }

// Keys returns the column indices the arrangement is indexed by.
func (a *Arrangement[V]) Keys() []int { return append([]int(nil), a.keys...) }

// Refcount returns the number of live references.
func (a *Arrangement[V]) Refcount() int { return int(a.refcount.Load()) }

func (a *Arrangement[V]) acquire() { a.refcount.Add(1) }
func (a *Arrangement[V]) release() { a.refcount.Add(-1) }

// Append makes a delta batch visible at its time and advances the frontier.
// The owning engine funnels all mutation through here, one batch at a time;
// readers never observe a torn intermediate state.
func (a *Arrangement[V]) Append(batch dataflow.Batch[V]) {
	if batch.Delta == nil || batch.Delta.IsZero() {
		a.advance(batch.Time)
		return
	}

	a.mu.Lock()
	a.history = append(a.history, batch)
	if batch.Time > a.frontier {
		a.frontier = batch.Time
	}
	a.snapshots.Purge()
	a.mu.Unlock()
}

func (a *Arrangement[V]) advance(t value.Time) {
	a.mu.Lock()
	if t > a.frontier {
		a.frontier = t
	}
	a.mu.Unlock()
}

// Frontier returns the latest time whose updates are fully visible.
func (a *Arrangement[V]) Frontier() value.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frontier
}

// ReadAt returns the consolidated collection of all batches with time ≤ t.
func (a *Arrangement[V]) ReadAt(t value.Time) *dataflow.ZSet[V] {
	a.mu.RLock()
	if snap, ok := a.snapshots.Get(t); ok {
		a.mu.RUnlock()
		return snap.Copy()
	}

	result := dataflow.NewZSet[V]()
	for _, b := range a.history {
		if b.Time <= t {
			result.AddMutate(b.Delta)
		}
	}
	a.mu.RUnlock()

	a.snapshots.Add(t, result.Copy())
	return result
}

// Snapshot returns the consolidated collection at the frontier.
func (a *Arrangement[V]) Snapshot() *dataflow.ZSet[V] {
	return a.ReadAt(a.Frontier())
}

// Lookup returns the tuples whose key columns equal the given key tuple, at
// the frontier.
func (a *Arrangement[V]) Lookup(key []V) (*dataflow.ZSet[V], error) {
	keyOf := dataflow.ColumnsKey[V](a.keys)
	want := value.Key(key)

	result := dataflow.NewZSet[V]()
	for _, e := range a.Snapshot().Entries() {
		k, err := keyOf(e.Tuple)
		if err != nil {
			return nil, err
		}
		if value.Key(k) == want {
			result.AddTupleMutate(e.Tuple, e.Diff)
		}
	}
	return result, nil
}
