package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/store"
)

func newRedisBackend(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return store.NewRedis(client), mr
}

// Two instances contend for one scheduling window: the loser skips, the
// winner releases and frees the window for the next run.
func TestRedisContentionWindow(t *testing.T) {
	s, _ := newRedisBackend(t)
	ctx := context.Background()

	h1 := lock.New(s, "job_lock", lock.WithTTL(300*time.Second))
	h2 := lock.New(s, "job_lock", lock.WithTTL(300*time.Second))

	if ok, err := h1.Acquire(ctx); err != nil || !ok {
		t.Fatalf("h1 acquire: ok %v err %v", ok, err)
	}
	if ok, err := h2.Acquire(ctx); err != nil || ok {
		t.Fatalf("h2 should be denied: ok %v err %v", ok, err)
	}
	if err := h1.Release(ctx); err != nil {
		t.Fatalf("h1 release: %v", err)
	}

	h3 := lock.New(s, "job_lock", lock.WithTTL(300*time.Second))
	if ok, err := h3.Acquire(ctx); err != nil || !ok {
		t.Fatalf("lock should be free again: ok %v err %v", ok, err)
	}
}

// A crashed holder never releases; expiry makes the lock acquirable again,
// and not before.
func TestRedisCrashedHolderExpires(t *testing.T) {
	s, mr := newRedisBackend(t)
	ctx := context.Background()

	h1 := lock.New(s, "job_lock", lock.WithTTL(300*time.Second))
	if ok, _ := h1.Acquire(ctx); !ok {
		t.Fatal("h1 acquire failed")
	}
	// h1 crashes here: no release.

	h2 := lock.New(s, "job_lock", lock.WithTTL(300*time.Second))
	if ok, _ := h2.Acquire(ctx); ok {
		t.Fatal("lock must not be acquirable before the TTL elapses")
	}

	mr.FastForward(301 * time.Second)

	h3 := lock.New(s, "job_lock", lock.WithTTL(300*time.Second))
	if ok, err := h3.Acquire(ctx); err != nil || !ok {
		t.Fatalf("lock should be acquirable after expiry: ok %v err %v", ok, err)
	}
}

// A stale holder's release must not delete the successor's lock, and the
// staleness is surfaced as ErrLockLost.
func TestRedisSafeReleaseAfterReassignment(t *testing.T) {
	s, mr := newRedisBackend(t)
	ctx := context.Background()

	h1 := lock.New(s, "job_lock", lock.WithTTL(time.Second))
	if ok, _ := h1.Acquire(ctx); !ok {
		t.Fatal("h1 acquire failed")
	}
	mr.FastForward(2 * time.Second)

	h2 := lock.New(s, "job_lock", lock.WithTTL(300*time.Second), lock.WithToken("successor"))
	if ok, _ := h2.Acquire(ctx); !ok {
		t.Fatal("h2 acquire failed")
	}

	if err := h1.Release(ctx); !errors.Is(err, latcherrors.ErrLockLost) {
		t.Fatalf("expected ErrLockLost, got %v", err)
	}
	if got, _ := mr.Get("job_lock"); got != "successor" {
		t.Fatalf("successor's lock was disturbed: %q", got)
	}
	if err := h2.Release(ctx); err != nil {
		t.Fatalf("h2 release: %v", err)
	}
}

func TestRedisStoreFailureIsNotContention(t *testing.T) {
	s, mr := newRedisBackend(t)
	mr.Close()

	h := lock.New(s, "job_lock")
	ok, err := h.Acquire(context.Background())
	if ok {
		t.Fatal("acquire cannot succeed against a dead store")
	}
	if !errors.Is(err, latcherrors.ErrStoreUnavailable) {
		t.Fatalf("store failure must surface as ErrStoreUnavailable, got %v", err)
	}
}
