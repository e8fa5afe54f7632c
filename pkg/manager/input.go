package manager

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"l7mp.io/interactive-engine/pkg/dataflow"
	"l7mp.io/interactive-engine/pkg/value"
)

// Update is one diff applied to an input: a tuple, the time at which it
// becomes visible, and a signed multiplicity delta.
type Update[V value.Datum] struct {
	Tuple []V
	Time  value.Time
	Diff  value.Diff
}

// InputHandle is the mutable handle of a named raw input. Updates
// accumulate as pending batches until the engine drains everything below
// its next frontier; a time's updates are never visible partially.
type InputHandle[V value.Datum] struct {
	name  string
	arity int

	mu      sync.Mutex
	pending []Update[V]

	ingested prometheus.Counter
}

// Name returns the input's registered name.
func (h *InputHandle[V]) Name() string { return h.name }

// Arity returns the tuple arity the input accepts.
func (h *InputHandle[V]) Arity() int { return h.arity }

// Update queues one diff. Tuples of the wrong arity are rejected.
func (h *InputHandle[V]) Update(tuple []V, t value.Time, diff value.Diff) error {
	if len(tuple) != h.arity {
		return NewConflictError(h.name,
			fmt.Sprintf("tuple arity %d does not match input arity %d", len(tuple), h.arity))
	}
	if diff == 0 {
		return nil
	}

	h.mu.Lock()
	h.pending = append(h.pending, Update[V]{Tuple: tuple, Time: t, Diff: diff})
	h.mu.Unlock()

	if h.ingested != nil {
		h.ingested.Inc()
	}
	return nil
}

// Insert queues an insertion of a tuple at a time.
func (h *InputHandle[V]) Insert(tuple []V, t value.Time) error {
	return h.Update(tuple, t, 1)
}

// Remove queues a retraction of a tuple at a time.
func (h *InputHandle[V]) Remove(tuple []V, t value.Time) error {
	return h.Update(tuple, t, -1)
}

// UpdateBatch queues a batch of diffs atomically: either all are accepted
// or none.
func (h *InputHandle[V]) UpdateBatch(updates []Update[V]) error {
	for _, u := range updates {
		if len(u.Tuple) != h.arity {
			return NewConflictError(h.name,
				fmt.Sprintf("tuple arity %d does not match input arity %d", len(u.Tuple), h.arity))
		}
	}

	h.mu.Lock()
	h.pending = append(h.pending, updates...)
	h.mu.Unlock()

	if h.ingested != nil {
		h.ingested.Add(float64(len(updates)))
	}
	return nil
}

// Pending reports the number of queued updates.
func (h *InputHandle[V]) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Drain removes and returns all updates strictly below the frontier,
// consolidated into per-time batches in time order. Updates at or past the
// frontier stay queued.
func (h *InputHandle[V]) Drain(frontier value.Time) []dataflow.Batch[V] {
	h.mu.Lock()
	defer h.mu.Unlock()

	byTime := make(map[value.Time]*dataflow.ZSet[V])
	var keep []Update[V]
	for _, u := range h.pending {
		if u.Time >= frontier {
			keep = append(keep, u)
			continue
		}
		delta, ok := byTime[u.Time]
		if !ok {
			delta = dataflow.NewZSet[V]()
			byTime[u.Time] = delta
		}
		delta.AddTupleMutate(u.Tuple, u.Diff)
	}
	h.pending = keep

	times := make([]value.Time, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	batches := make([]dataflow.Batch[V], 0, len(times))
	for _, t := range times {
		if byTime[t].IsZero() {
			continue
		}
		batches = append(batches, dataflow.Batch[V]{Time: t, Delta: byTime[t]})
	}
	return batches
}
