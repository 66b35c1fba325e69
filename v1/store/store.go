// Package store provides the atomic key-value primitives that back go-latch
// locks. A Store exposes exactly the operations a lock needs — conditional
// set-if-absent with expiry, compare-and-delete and compare-and-extend — and
// carries no retry or policy logic of its own.
package store

import (
	"context"
	"time"
)

// Store abstracts the external key-value service that arbitrates lock
// ownership. Every method is a single atomic round-trip against the backend;
// implementations must never approximate them with separate read and write
// steps.
type Store interface {
	// TrySet sets key to token with the given expiry, only if key does not
	// currently exist. It returns true when the set happened, false when the
	// key was already present. A non-positive ttl is rejected with
	// errors.ErrInvalidTTL.
	TrySet(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// DeleteIfOwner deletes key only if its current value equals token.
	// It returns true when the key was deleted, false when the key was
	// absent or held by a different token. No mutation happens on false.
	DeleteIfOwner(ctx context.Context, key, token string) (bool, error)

	// ExtendIfOwner resets the expiry of key to ttl only if its current
	// value equals token. It returns false when the key was absent or held
	// by a different token.
	ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}
