package value

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// Key computes a canonical string identity for a tuple. Two tuples map to
// the same key exactly when they are element-wise equal. The encoding is the
// JSON array of the elements' displays, which is deterministic and
// unambiguous for injective String implementations.
func Key[V Datum](tuple []V) string {
	parts := make([]string, len(tuple))
	for i, v := range tuple {
		parts[i] = v.String()
	}
	b, err := json.Marshal(parts)
	if err != nil {
		// Marshaling a string slice cannot fail; keep the signature clean.
		panic(err)
	}
	return string(b)
}

// Hash computes a 64-bit hash of a tuple's canonical key. The engine uses it
// to assign tuples to worker shards.
func Hash[V Datum](tuple []V) uint64 {
	return xxhash.Sum64String(Key(tuple))
}

// HashKey hashes an already-computed canonical key.
func HashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}
