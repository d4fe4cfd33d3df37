package locksource

import (
	"context"
	"sync"
)

// Local provides locks backed by local concurrency primitives.
//
// The zero Local is ready for use. A Local must not be copied after use.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// Assert [*Local] implements the interface.
var _ ContextLock = (*Local)(nil)

// Acquire takes the lock if it's free, otherwise it reports the channel that
// will be closed when the current holder releases it.
func (l *Local) acquire(key string) (release func(), wait <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.held[key]; ok {
		return nil, ch
	}
	if l.held == nil {
		l.held = make(map[string]chan struct{})
	}
	ch := make(chan struct{})
	l.held[key] = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(ch)
		})
	}, nil
}

// Lock implements [ContextLock].
func (l *Local) Lock(ctx context.Context, key string) (context.Context, context.CancelFunc) {
	for {
		release, wait := l.acquire(key)
		if release != nil {
			c, cancel := context.WithCancel(ctx)
			return c, func() { cancel(); release() }
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx, func() {}
		}
	}
}

// TryLock implements [ContextLock].
func (l *Local) TryLock(ctx context.Context, key string) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(ctx)
	release, _ := l.acquire(key)
	if release == nil {
		cancel()
		return c, func() {}
	}
	return c, func() { cancel(); release() }
}
