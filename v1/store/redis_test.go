package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
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
	return NewRedis(client), mr
}

func TestRedisTrySetAndContention(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	ok, err := s.TrySet(ctx, "k", "t1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TrySet: ok %v err %v", ok, err)
	}
	if got, _ := mr.Get("k"); got != "t1" {
		t.Fatalf("stored value = %q, want t1", got)
	}
	if ok, err := s.TrySet(ctx, "k", "t2", time.Minute); err != nil || ok {
		t.Fatalf("expected key held, ok %v err %v", ok, err)
	}
	if got, _ := mr.Get("k"); got != "t1" {
		t.Fatalf("losing TrySet mutated the key: %q", got)
	}
}

func TestRedisDeleteIfOwner(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, _ = s.TrySet(ctx, "k", "t1", time.Minute)

	if ok, err := s.DeleteIfOwner(ctx, "k", "wrong"); err != nil || ok {
		t.Fatalf("wrong-token delete: ok %v err %v", ok, err)
	}
	if !mr.Exists("k") {
		t.Fatal("key must survive a non-owner delete")
	}
	if ok, err := s.DeleteIfOwner(ctx, "k", "t1"); err != nil || !ok {
		t.Fatalf("owner delete: ok %v err %v", ok, err)
	}
	if mr.Exists("k") {
		t.Fatal("key should be gone after owner delete")
	}
	if ok, err := s.DeleteIfOwner(ctx, "k", "t1"); err != nil || ok {
		t.Fatalf("second delete must be a no-op, ok %v err %v", ok, err)
	}
}

func TestRedisExpiryAndStaleDelete(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, _ = s.TrySet(ctx, "k", "t1", time.Second)
	mr.FastForward(2 * time.Second)

	ok, err := s.TrySet(ctx, "k", "t2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("key should be acquirable after expiry, ok %v err %v", ok, err)
	}
	// The crashed holder's token must not delete the new holder's key.
	if ok, _ := s.DeleteIfOwner(ctx, "k", "t1"); ok {
		t.Fatal("stale token deleted a reassigned key")
	}
	if got, _ := mr.Get("k"); got != "t2" {
		t.Fatalf("new holder's value lost: %q", got)
	}
}

func TestRedisExtendIfOwner(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, _ = s.TrySet(ctx, "k", "t1", time.Second)

	if ok, err := s.ExtendIfOwner(ctx, "k", "t1", time.Minute); err != nil || !ok {
		t.Fatalf("extend: ok %v err %v", ok, err)
	}
	mr.FastForward(2 * time.Second)
	if !mr.Exists("k") {
		t.Fatal("extended lease expired at the original TTL")
	}
	if ok, err := s.ExtendIfOwner(ctx, "k", "wrong", time.Minute); err != nil || ok {
		t.Fatalf("wrong-token extend: ok %v err %v", ok, err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	mr.Close()

	if _, err := s.TrySet(ctx, "k", "t", time.Minute); !errors.Is(err, latcherrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := s.DeleteIfOwner(ctx, "k", "t"); !errors.Is(err, latcherrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := s.ExtendIfOwner(ctx, "k", "t", time.Minute); !errors.Is(err, latcherrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRedisInvalidTTL(t *testing.T) {
	s, _ := newRedisStore(t)
	if _, err := s.TrySet(context.Background(), "k", "t", 0); err != latcherrors.ErrInvalidTTL {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}
