// Package pglock provides a [locksource.ContextLock] backed by PostgreSQL
// session-level advisory locks.
//
// Each held lock pins one pooled connection. Contexts derived from a Locker
// are canceled when that connection is found to be gone, or when a parent
// context is canceled.
package pglock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quay/nspmirror/locksource"
)

// These are some error values used throughout.
var (
	errLockFail   = errors.New("pglock: lock acquisition failed")
	errDoubleLock = errors.New("pglock: lock already held")
)

// Locker provides context-scoped locks.
type Locker struct {
	pool *pgxpool.Pool
	// Interval is how often held connections are checked.
	interval time.Duration

	mu   sync.Mutex
	held map[string]struct{}
}

var _ locksource.ContextLock = (*Locker)(nil)

// New creates a Locker that pulls connections from the provided pool.
//
// The pool is not closed by the Locker.
func New(pool *pgxpool.Pool) *Locker {
	return &Locker{
		pool:     pool,
		interval: 5 * time.Second,
		held:     make(map[string]struct{}),
	}
}

// TryLock attempts to lock on the provided key.
//
// If unsuccessful, an already-canceled Context will be returned.
func (l *Locker) TryLock(parent context.Context, key string) (context.Context, context.CancelFunc) {
	child, done := context.WithCancel(parent)
	release, err := l.try(parent, key, done)
	if err != nil {
		slog.DebugContext(parent, "lock failed", "key", key, "reason", err)
		done()
		return child, done
	}
	return child, release
}

// Lock attempts to obtain the named lock until it succeeds or the passed
// Context is canceled.
func (l *Locker) Lock(parent context.Context, key string) (context.Context, context.CancelFunc) {
	child, done := context.WithCancel(parent)
	for wait := 500 * time.Millisecond; ; backoff(&wait) {
		release, err := l.try(parent, key, done)
		if err == nil {
			return child, release
		}
		slog.DebugContext(parent, "lock failed", "key", key, "reason", err)

		t := time.NewTimer(wait)
		select {
		case <-parent.Done():
			t.Stop()
			done()
			return parent, func() {}
		case <-t.C:
		}
	}
}

// Backoff implements a doubling backoff, capped at 10 seconds.
func backoff(w *time.Duration) {
	const max = 10 * time.Second
	*w *= 2
	if *w > max {
		*w = max
	}
}

// Try takes the advisory lock on a dedicated connection. On success, the
// returned function releases the lock and calls cf.
func (l *Locker) try(ctx context.Context, key string, cf context.CancelFunc) (context.CancelFunc, error) {
	l.mu.Lock()
	if _, ok := l.held[key]; ok {
		l.mu.Unlock()
		return nil, errDoubleLock
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()
	forget := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		forget()
		return nil, err
	}
	k := keyify(key)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1);`, k).Scan(&ok); err != nil {
		conn.Release()
		forget()
		return nil, err
	}
	if !ok {
		conn.Release()
		forget()
		return nil, errLockFail
	}

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer forget()
		l.watch(ctx, conn, k, stop, cf)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-exited
		})
	}, nil
}

// Watch owns the connection for the lifetime of the lock: it checks liveness
// until told to stop, then unlocks and returns the connection to the pool.
func (l *Locker) watch(ctx context.Context, conn *pgxpool.Conn, k int64, stop <-chan struct{}, cf context.CancelFunc) {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	lost := false
	for {
		select {
		case <-stop:
			cf()
			if lost {
				return
			}
			tctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := conn.Exec(tctx, `SELECT pg_advisory_unlock($1);`, k)
			done()
			if err != nil {
				// Closing the session drops its advisory locks.
				slog.DebugContext(ctx, "error during unlock", "reason", err)
				conn.Conn().Close(context.Background())
			}
			conn.Release()
			return
		case <-t.C:
			if lost {
				continue
			}
			tctx, done := context.WithTimeout(context.Background(), time.Second)
			err := conn.Ping(tctx)
			done()
			if err != nil {
				slog.WarnContext(ctx, "liveness check failed", "reason", err)
				lost = true
				cf()
				conn.Conn().Close(context.Background())
				conn.Release()
			}
		}
	}
}
