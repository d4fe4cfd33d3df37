package locksource

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalTryLock(t *testing.T) {
	ctx := context.Background()
	var l Local

	c1, done1 := l.TryLock(ctx, "nsp")
	if !Acquired(c1) {
		t.Fatal("first TryLock failed")
	}
	c2, done2 := l.TryLock(ctx, "nsp")
	if Acquired(c2) {
		t.Error("second TryLock succeeded while held")
	}
	done2()
	if !Acquired(c1) {
		t.Error("failed TryLock released the held lock")
	}

	c3, done3 := l.TryLock(ctx, "other")
	if !Acquired(c3) {
		t.Error("unrelated key blocked")
	}
	done3()

	done1()
	if Acquired(c1) {
		t.Error("released lock's Context not canceled")
	}
	c4, done4 := l.TryLock(ctx, "nsp")
	defer done4()
	if !Acquired(c4) {
		t.Error("TryLock after release failed")
	}
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	var l Local
	_, done := l.Lock(ctx, "nsp")

	var wg sync.WaitGroup
	got := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, done := l.Lock(ctx, "nsp")
		defer done()
		if c.Err() != nil {
			t.Error("waiter got a canceled Context")
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("Lock did not wait")
	case <-time.After(20 * time.Millisecond):
	}
	done()
	done() // Releasing twice is harmless.
	wg.Wait()
}

func TestLocalLockCanceled(t *testing.T) {
	var l Local
	_, done := l.Lock(context.Background(), "nsp")
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	c, unlock := l.Lock(ctx, "nsp")
	defer unlock()
	if c.Err() == nil {
		t.Error("expected a canceled Context")
	}
}
