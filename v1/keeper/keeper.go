// Package keeper renews a held lock's lease in the background so a holder
// whose work may outlast the TTL is not expired mid-run. Renewal is opt-in:
// plain handles acquire once and release once, and short jobs should simply
// pick a TTL above their worst-case duration.
package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/lock"
)

// Keeper periodically extends a held lock until stopped or until the lease
// is lost to another holder.
type Keeper struct {
	handle   *lock.Handle
	interval time.Duration
	onLost   func(error)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithInterval sets the renewal period. It should be well below the lock's
// TTL; the default is TTL/2.
func WithInterval(d time.Duration) Option {
	return func(k *Keeper) {
		k.interval = d
	}
}

// WithOnLost sets a callback invoked once when renewal fails because the
// lease expired or was reassigned. The callback runs on the keeper's
// goroutine; the caller should stop its protected work promptly.
func WithOnLost(fn func(error)) Option {
	return func(k *Keeper) {
		k.onLost = fn
	}
}

// Start begins renewing the lease of h, which must currently hold its lock.
func Start(h *lock.Handle, opts ...Option) (*Keeper, error) {
	if !h.IsHeld() {
		return nil, latcherrors.ErrNotHeld
	}
	k := &Keeper{
		handle:   h,
		interval: h.TTL() / 2,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.interval <= 0 {
		k.interval = h.TTL() / 2
	}
	go k.run()
	return k, nil
}

func (k *Keeper) run() {
	defer close(k.doneCh)
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
			err := k.handle.Extend(context.Background())
			if err == nil {
				continue
			}
			if errors.Is(err, latcherrors.ErrLockLost) || errors.Is(err, latcherrors.ErrNotHeld) {
				if k.onLost != nil {
					k.onLost(err)
				}
				return
			}
			// Store hiccup: the lease may still be live, keep trying until
			// it either recovers or genuinely expires.
		}
	}
}

// Stop halts renewal and releases the lock. It is safe to call more than
// once; only the first call releases. The returned error is the release
// outcome (ErrLockLost when the lease was already gone).
func (k *Keeper) Stop(ctx context.Context) error {
	var err error
	k.stopOnce.Do(func() {
		close(k.stopCh)
		<-k.doneCh
		err = k.handle.Release(ctx)
	})
	return err
}
