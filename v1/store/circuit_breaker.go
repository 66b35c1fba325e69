package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

// ErrCircuitOpen is returned while the breaker is rejecting store calls.
// It wraps ErrStoreUnavailable so callers checking for store failures keep
// working.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", latcherrors.ErrStoreUnavailable)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker decorates a Store with circuit breaker logic. When the
// backend fails repeatedly, further calls fail fast instead of stacking
// round-trip timeouts in every contending process.
type CircuitBreaker struct {
	store     Store
	mu        sync.RWMutex
	state     breakerState
	failures  int
	threshold int
	timeout   time.Duration
	lastFail  time.Time
}

// NewCircuitBreaker returns a new CircuitBreaker around store. threshold is
// the number of consecutive failures that opens the circuit, timeout how
// long it stays open before a probe is allowed.
func NewCircuitBreaker(store Store, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		store:     store,
		threshold: threshold,
		timeout:   timeout,
		state:     stateClosed,
	}
}

// IsHealthy returns true if the circuit is closed.
func (cb *CircuitBreaker) IsHealthy() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state == stateOpen {
		return time.Since(cb.lastFail) > cb.timeout
	}
	return true
}

// allow checks if a request should be allowed.
// It handles the transition from Open to Half-Open based on timeout.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.lastFail) > cb.timeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return false // Only one probe at a time
	}
	return false
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case stateHalfOpen:
		cb.state = stateClosed
		cb.failures = 0
	case stateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFail = time.Now()
	cb.failures++
	if cb.state == stateClosed && cb.failures >= cb.threshold {
		cb.state = stateOpen
	} else if cb.state == stateHalfOpen {
		cb.state = stateOpen
	}
}

// observe records the outcome of a store call. Only store-level failures
// count against the breaker; contention and usage errors pass through.
func (cb *CircuitBreaker) observe(err error) {
	if err == nil || !errors.Is(err, latcherrors.ErrStoreUnavailable) {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

// TrySet implements Store.TrySet with circuit breaker logic.
func (cb *CircuitBreaker) TrySet(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if !cb.allow() {
		return false, ErrCircuitOpen
	}
	ok, err := cb.store.TrySet(ctx, key, token, ttl)
	cb.observe(err)
	return ok, err
}

// DeleteIfOwner implements Store.DeleteIfOwner with circuit breaker logic.
func (cb *CircuitBreaker) DeleteIfOwner(ctx context.Context, key, token string) (bool, error) {
	if !cb.allow() {
		return false, ErrCircuitOpen
	}
	ok, err := cb.store.DeleteIfOwner(ctx, key, token)
	cb.observe(err)
	return ok, err
}

// ExtendIfOwner implements Store.ExtendIfOwner with circuit breaker logic.
func (cb *CircuitBreaker) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if !cb.allow() {
		return false, ErrCircuitOpen
	}
	ok, err := cb.store.ExtendIfOwner(ctx, key, token, ttl)
	cb.observe(err)
	return ok, err
}
