// Package errors defines the sentinel errors shared across go-latch.
package errors

import "errors"

var (
	// ErrStoreUnavailable reports that the backing store could not be
	// reached. It is distinct from lock contention, which is never an error.
	ErrStoreUnavailable = errors.New("latch: store unavailable")

	// ErrAlreadyAcquired reports that Acquire was called on a handle that
	// already went through its acquire attempt. Handles are single-use.
	ErrAlreadyAcquired = errors.New("latch: handle already acquired")

	// ErrNotHeld reports a Release or Extend on a handle that does not hold
	// the lock. Cleanup paths may treat it as a no-op.
	ErrNotHeld = errors.New("latch: lock not held")

	// ErrLockLost reports that the lease expired or was reassigned to
	// another holder before Release or Extend ran. Work done under the lock
	// may have overlapped with the new holder.
	ErrLockLost = errors.New("latch: lock lost")

	// ErrInvalidTTL reports a non-positive lease duration. Locks without an
	// expiry would wedge the key forever if the holder crashes.
	ErrInvalidTTL = errors.New("latch: ttl must be positive")
)
