package resilience

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the circuit breaker's lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Call when the circuit is open or the
// half-open trial slot budget is exhausted.
type ErrCircuitOpen struct {
	Key   string
	State State
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit %q is %s", e.Key, e.State)
}

// CircuitBreakerOptions configures a single breaker instance. Zero values
// are replaced with the package defaults (5/3/60s/3) at construction time.
type CircuitBreakerOptions struct {
	FailureThreshold      int
	SuccessThreshold      int
	RecoveryTimeout       time.Duration
	HalfOpenMaxConcurrent int
	// IsExcluded, when non-nil, is consulted for every error Call observes.
	// Errors it reports true for are returned to the caller unmodified and
	// never count as a circuit failure - the call looks like a programmer
	// error, not a dependency failure.
	IsExcluded func(err error) bool
}

func (o CircuitBreakerOptions) withDefaults() CircuitBreakerOptions {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 3
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = 60 * time.Second
	}
	if o.HalfOpenMaxConcurrent <= 0 {
		o.HalfOpenMaxConcurrent = 3
	}
	return o
}

// CircuitBreaker guards one downstream dependency keyed by name (e.g.
// "embedding", "llm:openai", "vector_store"). It is safe for concurrent use.
type CircuitBreaker struct {
	key  string
	opts CircuitBreakerOptions

	state        atomic.Int32
	failureCount atomic.Int32
	successCount atomic.Int32
	halfOpenInFlight atomic.Int32

	mu              sync.RWMutex
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a breaker for key, starting closed.
func NewCircuitBreaker(key string, opts CircuitBreakerOptions) *CircuitBreaker {
	return &CircuitBreaker{
		key:  key,
		opts: opts.withDefaults(),
	}
}

// State reports the breaker's current state, resolving a stale open state
// to half_open if the recovery timeout has elapsed (the transition itself
// only happens inside Call, this just reports what Call would see).
func (cb *CircuitBreaker) State() State {
	s := State(cb.state.Load())
	if s == StateOpen && cb.recoveryElapsed() {
		return StateHalfOpen
	}
	return s
}

func (cb *CircuitBreaker) recoveryElapsed() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return time.Since(cb.lastFailureTime) >= cb.opts.RecoveryTimeout
}

// Call executes fn under the breaker's protection. If the circuit is open
// and the recovery timeout hasn't elapsed, or the half-open trial slots are
// full, fn is never invoked and an *ErrCircuitOpen is returned.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return &ErrCircuitOpen{Key: cb.key, State: cb.State()}
	}

	halfOpen := State(cb.state.Load()) == StateHalfOpen
	if halfOpen {
		defer cb.halfOpenInFlight.Add(-1)
	}

	err := fn()
	cb.record(err)
	return err
}

// allow decides whether a call may proceed, performing the lazy
// open -> half_open transition and reserving a half-open trial slot.
func (cb *CircuitBreaker) allow() bool {
	switch State(cb.state.Load()) {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.halfOpenInFlight.Add(1) > int32(cb.opts.HalfOpenMaxConcurrent) {
			cb.halfOpenInFlight.Add(-1)
			return false
		}
		return true
	case StateOpen:
		if !cb.recoveryElapsed() {
			return false
		}
		if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			cb.successCount.Store(0)
			cb.failureCount.Store(0)
		}
		return cb.allow()
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	if err != nil && cb.opts.IsExcluded != nil && cb.opts.IsExcluded(err) {
		return
	}
	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch State(cb.state.Load()) {
	case StateHalfOpen:
		if cb.successCount.Add(1) >= int32(cb.opts.SuccessThreshold) {
			cb.state.Store(int32(StateClosed))
			cb.failureCount.Store(0)
			cb.successCount.Store(0)
		}
	case StateClosed:
		cb.failureCount.Store(0)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	cb.lastFailureTime = time.Now()
	cb.mu.Unlock()

	switch State(cb.state.Load()) {
	case StateHalfOpen:
		cb.open()
	case StateClosed:
		if cb.failureCount.Add(1) >= int32(cb.opts.FailureThreshold) {
			cb.open()
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.state.Store(int32(StateOpen))
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
}

// Reset returns the circuit to closed with zeroed counters. Calling it on
// an already-closed circuit is a no-op in effect, though it still clears
// counters (property: idempotent end state, not a strict no-op on state).
func (cb *CircuitBreaker) Reset() {
	cb.state.Store(int32(StateClosed))
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
	cb.halfOpenInFlight.Store(0)
}

// ForceOpen trips the circuit immediately, for operator-initiated isolation
// of a dependency that's known bad before the failure threshold would catch it.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	cb.lastFailureTime = time.Now()
	cb.mu.Unlock()
	cb.open()
}

// Stats returns a snapshot for diagnostics/metrics export.
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.RLock()
	lastFailure := cb.lastFailureTime
	cb.mu.RUnlock()

	return map[string]interface{}{
		"key":            cb.key,
		"state":          cb.State().String(),
		"failure_count":  cb.failureCount.Load(),
		"success_count":  cb.successCount.Load(),
		"in_flight":      cb.halfOpenInFlight.Load(),
		"last_failure_at": lastFailure,
	}
}
