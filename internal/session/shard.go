package session

import "hash/fnv"

// shardCount is the number of map shards used by [Store] and [Memory].
// Power of two so the hash folds with a mask. One ID always maps to one
// shard, so per-ID check-then-act sequences serialize on the shard mutex
// without a global lock.
const shardCount = 32

// shardIndex maps a session ID to its owning shard.
func shardIndex(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id)) // hash.Hash Write never fails
	return h.Sum32() & (shardCount - 1)
}
