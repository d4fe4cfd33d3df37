package pglock

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quay/nspmirror/locksource"
	"github.com/quay/nspmirror/test"
)

func pool(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("NSPMIRROR_TEST_PG")
	if dsn == "" {
		t.Skip("NSPMIRROR_TEST_PG not set")
	}
	ctx := test.Logging(t)
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	return ctx, p
}

func TestTryLock(t *testing.T) {
	ctx, p := pool(t)
	a, b := New(p), New(p)

	c1, done1 := a.TryLock(ctx, t.Name())
	if !locksource.Acquired(c1) {
		t.Fatal("first TryLock failed")
	}
	c2, done2 := b.TryLock(ctx, t.Name())
	if locksource.Acquired(c2) {
		t.Error("second TryLock succeeded while held")
	}
	done2()
	c3, done3 := a.TryLock(ctx, t.Name())
	if locksource.Acquired(c3) {
		t.Error("same Locker took the lock twice")
	}
	done3()

	done1()
	if locksource.Acquired(c1) {
		t.Error("released lock's Context not canceled")
	}
	c4, done4 := b.TryLock(ctx, t.Name())
	defer done4()
	if !locksource.Acquired(c4) {
		t.Error("TryLock after release failed")
	}
}

func TestKeyify(t *testing.T) {
	if keyify("nsp") == keyify("nvd") {
		t.Error("distinct keys collided")
	}
	if keyify("nsp") != keyify("nsp") {
		t.Error("unstable key")
	}
}
