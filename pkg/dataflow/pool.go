package dataflow

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"l7mp.io/interactive-engine/pkg/value"
)

// Pool is a fixed set of workers evaluating shard-local operator instances.
// A call to Run returns only when every shard has finished, which is the
// synchronization point that makes a time's results visible downstream.
type Pool struct {
	workers int
}

// NewPool creates a pool. Zero or negative worker counts fall back to the
// number of CPUs.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the shard count.
func (p *Pool) Workers() int { return p.workers }

// Run evaluates f once per shard, in parallel, and waits for all shards.
func (p *Pool) Run(ctx context.Context, f func(shard int) error) error {
	g, _ := errgroup.WithContext(ctx)
	for shard := 0; shard < p.workers; shard++ {
		shard := shard
		g.Go(func() error { return f(shard) })
	}
	return g.Wait()
}

// Partition splits a delta into n shards by key hash, so tuples with equal
// keys always land in the same shard. A nil key function partitions by the
// whole tuple.
func Partition[V value.Datum](delta *ZSet[V], n int, key KeyFunc[V]) ([]*ZSet[V], error) {
	shards := make([]*ZSet[V], n)
	for i := range shards {
		shards[i] = NewZSet[V]()
	}
	if delta == nil {
		return shards, nil
	}
	if key == nil {
		key = WholeTupleKey[V]
	}

	for _, e := range delta.Entries() {
		k, err := key(e.Tuple)
		if err != nil {
			return nil, err
		}
		shard := int(value.Hash(k) % uint64(n))
		shards[shard].AddTupleMutate(e.Tuple, e.Diff)
	}

	return shards, nil
}

// Merge combines shard-local deltas back into one Z-set.
func Merge[V value.Datum](shards []*ZSet[V]) *ZSet[V] {
	result := NewZSet[V]()
	for _, s := range shards {
		result.AddMutate(s)
	}
	return result
}
