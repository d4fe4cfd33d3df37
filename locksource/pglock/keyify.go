package pglock

import (
	"hash/fnv"
)

// Keyify maps a lock name onto the int64 keyspace of PostgreSQL advisory
// locks.
func keyify(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}
