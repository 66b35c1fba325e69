package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/metrics"
	"github.com/mirkobrombin/go-latch/v1/store"
	"github.com/mirkobrombin/go-latch/v1/syncbus"
)

const (
	// DefaultTTL is the lease duration used when no TTL option is given.
	// It must exceed the expected maximum duration of the protected work.
	DefaultTTL = 30 * time.Second

	// DefaultPollInterval is the sleep between blocking acquire attempts.
	DefaultPollInterval = 100 * time.Millisecond
)

type state int

const (
	stateIdle state = iota
	stateAcquiring
	stateHeld
	stateFailed
	stateReleased
)

// Handle represents one process's attempt to hold a named lock for a single
// acquire → work → release cycle. Handles must not be shared across
// processes or reused for a second cycle; they are safe for concurrent use
// by the goroutines of their owning process.
type Handle struct {
	store store.Store
	bus   syncbus.Bus

	key            string
	ttl            time.Duration
	blocking       bool
	pollInterval   time.Duration
	acquireTimeout time.Duration
	fixedToken     string

	mu    sync.Mutex
	state state
	token string
}

// Option configures a Handle.
type Option func(*Handle)

// WithTTL sets the lease duration after which the store auto-expires the
// lock if it was never released.
func WithTTL(ttl time.Duration) Option {
	return func(h *Handle) {
		h.ttl = ttl
	}
}

// WithBlocking makes Acquire retry until the lock is obtained, the acquire
// timeout elapses or the context is cancelled.
func WithBlocking() Option {
	return func(h *Handle) {
		h.blocking = true
	}
}

// WithPollInterval sets the sleep between blocking acquire attempts.
func WithPollInterval(d time.Duration) Option {
	return func(h *Handle) {
		h.pollInterval = d
	}
}

// WithAcquireTimeout bounds how long a blocking Acquire may wait. Zero means
// no bound beyond the context.
func WithAcquireTimeout(d time.Duration) Option {
	return func(h *Handle) {
		h.acquireTimeout = d
	}
}

// WithBus attaches a release-event bus. Blocking acquires subscribe to the
// lock's release topic and retry immediately when the holder lets go,
// instead of waiting out the poll interval. Releases publish on the same
// topic.
func WithBus(bus syncbus.Bus) Option {
	return func(h *Handle) {
		h.bus = bus
	}
}

// WithToken overrides the generated ownership token, for tests that assert
// on the stored value and for operators who want a recognizable holder
// value (for example hostname:pid plus a random suffix). The token must
// remain unique per acquire attempt or the safe-release guarantee is void.
func WithToken(token string) Option {
	return func(h *Handle) {
		h.fixedToken = token
	}
}

// New returns a Handle for the given lock key backed by s.
func New(s store.Store, key string, opts ...Option) *Handle {
	h := &Handle{
		store:        s,
		key:          key,
		ttl:          DefaultTTL,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// releaseTopic names the bus topic carrying release events for a key. Dots
// keep the topic valid across Redis, NATS and Kafka backends.
func releaseTopic(key string) string {
	return "latch.release." + key
}

// Acquire attempts to take ownership of the lock. It returns true when this
// handle is now the holder and false when another holder has it (blocking
// mode additionally returns false when the acquire timeout elapses).
// Contention is an expected outcome, not an error. Store failures are
// returned as errors wrapping errors.ErrStoreUnavailable and leave the
// handle idle so the caller may construct a new attempt.
//
// Acquire may be called once per handle; further calls return
// errors.ErrAlreadyAcquired.
func (h *Handle) Acquire(ctx context.Context) (bool, error) {
	h.mu.Lock()
	if h.state != stateIdle {
		h.mu.Unlock()
		return false, latcherrors.ErrAlreadyAcquired
	}
	h.state = stateAcquiring
	token := h.fixedToken
	if token == "" {
		token = uuid.NewString()
	}
	h.mu.Unlock()

	metrics.AcquireCounter.Inc()

	ok, err := h.acquire(ctx, token)
	h.mu.Lock()
	switch {
	case err != nil:
		h.state = stateIdle
	case ok:
		h.state = stateHeld
		h.token = token
	default:
		h.state = stateFailed
	}
	h.mu.Unlock()

	switch {
	case err != nil:
		metrics.StoreErrorCounter.Inc()
	case ok:
		metrics.AcquiredCounter.Inc()
		metrics.HeldGauge.Inc()
	default:
		metrics.ContendedCounter.Inc()
	}
	return ok, err
}

func (h *Handle) acquire(ctx context.Context, token string) (bool, error) {
	ok, err := h.store.TrySet(ctx, h.key, token, h.ttl)
	if err != nil || ok || !h.blocking {
		return ok, err
	}

	var timeoutC <-chan time.Time
	if h.acquireTimeout > 0 {
		timer := time.NewTimer(h.acquireTimeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	// A release event wakes the loop early; polling remains authoritative
	// in case the event is lost or the bus is unavailable.
	var wake chan struct{}
	if h.bus != nil {
		subCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if ch, serr := h.bus.Subscribe(subCtx, releaseTopic(h.key)); serr == nil {
			wake = ch
		}
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timeoutC:
			return false, nil
		case <-ticker.C:
		case _, open := <-wake:
			if !open {
				// The bus shut down and closed our channel. Fall back to
				// plain polling instead of spinning on the closed channel.
				wake = nil
				continue
			}
		}
		ok, err = h.store.TrySet(ctx, h.key, token, h.ttl)
		if err != nil || ok {
			return ok, err
		}
	}
}

// Release gives up ownership. It deletes the stored key only when it still
// carries this handle's token; if the lease already expired or was
// reassigned it returns errors.ErrLockLost so the caller can flag that its
// work may have overlapped with a new holder. Calling Release on a handle
// that does not hold the lock returns errors.ErrNotHeld and performs no
// store mutation. The handle is spent after Release regardless of outcome.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.state != stateHeld {
		h.mu.Unlock()
		return latcherrors.ErrNotHeld
	}
	token := h.token
	h.state = stateReleased
	h.mu.Unlock()

	metrics.HeldGauge.Dec()

	ok, err := h.store.DeleteIfOwner(ctx, h.key, token)
	if err != nil {
		metrics.StoreErrorCounter.Inc()
		return err
	}
	if !ok {
		metrics.LostCounter.Inc()
		return latcherrors.ErrLockLost
	}
	metrics.ReleasedCounter.Inc()
	if h.bus != nil {
		_ = h.bus.Publish(ctx, releaseTopic(h.key))
	}
	return nil
}

// Extend refreshes the lease to a full TTL from now. It returns
// errors.ErrLockLost when the lease already expired or was reassigned, in
// which case the handle is spent and must not be extended again.
func (h *Handle) Extend(ctx context.Context) error {
	h.mu.Lock()
	if h.state != stateHeld {
		h.mu.Unlock()
		return latcherrors.ErrNotHeld
	}
	token := h.token
	h.mu.Unlock()

	ok, err := h.store.ExtendIfOwner(ctx, h.key, token, h.ttl)
	if err != nil {
		metrics.StoreErrorCounter.Inc()
		return err
	}
	if !ok {
		h.mu.Lock()
		if h.state == stateHeld {
			h.state = stateReleased
			metrics.HeldGauge.Dec()
		}
		h.mu.Unlock()
		metrics.LostCounter.Inc()
		return latcherrors.ErrLockLost
	}
	metrics.ExtendCounter.Inc()
	return nil
}

// IsHeld returns true while this handle holds the lock.
func (h *Handle) IsHeld() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateHeld
}

// Key returns the lock key.
func (h *Handle) Key() string { return h.key }

// TTL returns the configured lease duration.
func (h *Handle) TTL() time.Duration { return h.ttl }

// Token returns the ownership token, empty until the lock is acquired.
func (h *Handle) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}
