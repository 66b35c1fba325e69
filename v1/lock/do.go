package lock

import (
	"context"
	"errors"

	"github.com/mirkobrombin/go-latch/v1/store"
)

// Do runs fn under the named lock. It acquires with a fresh handle, runs fn
// only on success and always releases afterwards, including when fn panics.
// The boolean reports whether fn ran; false with a nil error means the lock
// was held elsewhere and the work was skipped.
//
// If the lease was lost before the release, the returned error includes
// errors.ErrLockLost so the caller can flag that fn's work may have
// overlapped with another holder.
func Do(ctx context.Context, s store.Store, key string, fn func(context.Context) error, opts ...Option) (bool, error) {
	h := New(s, key, opts...)
	ok, err := h.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	// Panic backstop. On the normal path the handle is already spent by the
	// eager release below and this returns ErrNotHeld, which is discarded.
	defer func() { _ = h.Release(ctx) }()

	fnErr := fn(ctx)
	relErr := h.Release(ctx)
	return true, errors.Join(fnErr, relErr)
}
