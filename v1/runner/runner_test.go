package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/store"
)

func TestRunExecutesAndReleases(t *testing.T) {
	s := store.NewInMemory()
	r := New(s, time.Minute)
	ctx := context.Background()

	ran := false
	res := r.Run(ctx, "job_lock", func(context.Context) error {
		ran = true
		return nil
	})
	if !res.Acquired || !res.Executed || !ran {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TaskErr != nil || res.LockErr != nil {
		t.Fatalf("unexpected errors: %+v", res)
	}

	// The window is free again for the next run.
	res = r.Run(ctx, "job_lock", func(context.Context) error { return nil })
	if !res.Executed {
		t.Fatalf("second run should execute: %+v", res)
	}
}

func TestRunSkipsWhenContended(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()

	holder := lock.New(s, "job_lock", lock.WithTTL(time.Minute))
	if ok, _ := holder.Acquire(ctx); !ok {
		t.Fatal("holder acquire failed")
	}

	r := New(s, time.Minute)
	res := r.Run(ctx, "job_lock", func(context.Context) error {
		t.Error("task must not run when contended")
		return nil
	})
	if res.Acquired || res.Executed {
		t.Fatalf("expected a skip: %+v", res)
	}
	if res.TaskErr != nil || res.LockErr != nil {
		t.Fatalf("a skip is not an error: %+v", res)
	}
}

func TestRunReleasesOnTaskError(t *testing.T) {
	s := store.NewInMemory()
	r := New(s, time.Minute)
	ctx := context.Background()

	boom := errors.New("boom")
	res := r.Run(ctx, "job_lock", func(context.Context) error { return boom })
	if !res.Executed || !errors.Is(res.TaskErr, boom) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.LockErr != nil {
		t.Fatalf("release should have succeeded: %v", res.LockErr)
	}
	if ok, _ := s.TrySet(ctx, "job_lock", "probe", time.Second); !ok {
		t.Fatal("lock not released after task error")
	}
}

func TestRunReportsLostLease(t *testing.T) {
	s := store.NewInMemory()
	r := New(s, 20*time.Millisecond)
	ctx := context.Background()

	res := r.Run(ctx, "job_lock", func(context.Context) error {
		time.Sleep(50 * time.Millisecond) // outlive the lease
		return nil
	})
	if !res.Executed {
		t.Fatal("task should have run")
	}
	if !errors.Is(res.LockErr, latcherrors.ErrLockLost) {
		t.Fatalf("expected ErrLockLost, got %v", res.LockErr)
	}
}

func TestRunSurfacesStoreFailure(t *testing.T) {
	s := failingStore{}
	r := New(s, time.Minute)

	res := r.Run(context.Background(), "job_lock", func(context.Context) error {
		t.Error("task must not run when the store is down")
		return nil
	})
	if res.Acquired || res.Executed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !errors.Is(res.LockErr, latcherrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", res.LockErr)
	}
}

type failingStore struct{}

func (failingStore) TrySet(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return false, latcherrors.ErrStoreUnavailable
}

func (failingStore) DeleteIfOwner(ctx context.Context, key, token string) (bool, error) {
	return false, latcherrors.ErrStoreUnavailable
}

func (failingStore) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return false, latcherrors.ErrStoreUnavailable
}
