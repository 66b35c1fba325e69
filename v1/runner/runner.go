// Package runner executes jobs guarded by a distributed lock. It carries
// the scheduling-window semantics of a cron fleet: when several instances
// fire at once, exactly one runs the job and the rest skip cleanly.
package runner

import (
	"context"
	"time"

	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/store"
)

// Result reports what happened to one guarded run.
type Result struct {
	// Acquired is true when this instance won the lock.
	Acquired bool
	// Executed is true when the task ran (implies Acquired).
	Executed bool
	// TaskErr is the task's own error, if it ran and failed.
	TaskErr error
	// LockErr carries lock-layer failures: store unavailability on acquire,
	// or ErrLockLost when the lease expired before release. A contended
	// (skipped) run leaves both errors nil.
	LockErr error
}

// Runner runs tasks under named locks backed by a single store.
type Runner struct {
	store store.Store
	ttl   time.Duration
	opts  []lock.Option
}

// New returns a Runner. ttl bounds each task's lease; extra lock options
// (for example lock.WithBus) apply to every run.
func New(s store.Store, ttl time.Duration, opts ...lock.Option) *Runner {
	return &Runner{store: s, ttl: ttl, opts: opts}
}

// Run acquires the named lock without blocking, executes task if it won and
// always releases afterwards. Task errors never prevent the release.
func (r *Runner) Run(ctx context.Context, key string, task func(context.Context) error) Result {
	opts := append([]lock.Option{lock.WithTTL(r.ttl)}, r.opts...)
	h := lock.New(r.store, key, opts...)

	ok, err := h.Acquire(ctx)
	if err != nil {
		return Result{LockErr: err}
	}
	if !ok {
		return Result{}
	}

	res := Result{Acquired: true, Executed: true}
	func() {
		defer func() {
			res.LockErr = h.Release(ctx)
		}()
		res.TaskErr = task(ctx)
	}()
	return res
}
