package resilience

import (
	"sync"
	"time"
)

// BreakerRegistry lazily creates and hands out one *CircuitBreaker per key,
// so callers never need to plumb breaker ownership through their own types.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerOptions
	metrics  *Metrics
}

// NewBreakerRegistry builds a registry whose breakers use defaults unless
// GetOrCreate is called with explicit options for that key. Every call made
// through Call is timed and counted by a shared Metrics instance.
func NewBreakerRegistry(defaults CircuitBreakerOptions) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults.withDefaults(),
		metrics:  NewMetrics(),
	}
}

// Call runs fn through key's breaker, recording a request counter and a
// latency histogram labeled by key and outcome (success/circuit_open/
// failure) - the telemetry every resilience-wrapped call produces. A
// retried-then-succeeded fn surfaces here only as a slower success: the
// retry loop runs inside fn, below this boundary, so individual attempts
// aren't separately observable from the breaker's point of view.
func (r *BreakerRegistry) Call(key string, fn func() error) error {
	start := time.Now()
	err := r.Get(key).Call(fn)
	r.metrics.observe(key, time.Since(start), err)
	return err
}

// Get returns the breaker for key, creating it with registry defaults if
// it doesn't exist yet.
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	return r.GetOrCreate(key, r.defaults)
}

// GetOrCreate returns the existing breaker for key, or creates one with opts
// if this is the first call for that key. Later calls ignore opts once a
// breaker already exists - options are set once, at first use.
func (r *BreakerRegistry) GetOrCreate(key string, opts CircuitBreakerOptions) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(key, opts)
	r.breakers[key] = cb
	return cb
}

// All returns a snapshot of every breaker currently registered, for
// diagnostics endpoints and metrics export.
func (r *BreakerRegistry) All() map[string]*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*CircuitBreaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

// Reset resets the named breaker to closed, if it exists.
func (r *BreakerRegistry) Reset(key string) {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		cb.Reset()
	}
}

// ForceOpen trips the named breaker open, if it exists.
func (r *BreakerRegistry) ForceOpen(key string) {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		cb.ForceOpen()
	}
}
