// Package locksource describes the locks used to keep mirror runs from
// overlapping.
//
// A lock only protects anything if every process that may run a mirror for
// the same store shares it. Multiple instances pointed at one PostgreSQL
// database should use [github.com/quay/nspmirror/locksource/pglock]; a single
// process can use [Local].
package locksource

import (
	"context"
)

// ContextLock abstracts over how locks are implemented.
//
// The Lock and TryLock methods take an exclusive lock on the provided key and
// return a Context that is canceled if the parent Context is canceled or the
// lock is lost for some other reason. The returned CancelFunc releases the
// lock and must always be called.
type ContextLock interface {
	// Lock waits to acquire the named lock.
	Lock(ctx context.Context, key string) (context.Context, context.CancelFunc)
	// TryLock returns an already-canceled Context if it would need to wait to
	// acquire the named lock.
	TryLock(ctx context.Context, key string) (context.Context, context.CancelFunc)
}

// Acquired reports whether a Context returned from TryLock represents a held
// lock.
//
// It must be checked immediately after the call: a held lock's Context is
// canceled when the lock is lost, so a later check reports false.
func Acquired(lockCtx context.Context) bool {
	return lockCtx.Err() == nil
}
