package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBreakerRegistry_CallRecordsOutcome(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerOptions{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	_ = r.Call("embedding", func() error { return nil })
	_ = r.Call("embedding", func() error { return errors.New("boom") })

	err := r.Call("embedding", func() error { return nil })
	var open *ErrCircuitOpen
	assert.ErrorAs(t, err, &open)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.requests.WithLabelValues("embedding", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.requests.WithLabelValues("embedding", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.requests.WithLabelValues("embedding", "circuit_open")))
}

func TestBreakerRegistry_GetAndCallShareTheSameBreaker(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerOptions{FailureThreshold: 2, RecoveryTimeout: time.Minute})

	_ = r.Call("rerank", func() error { return errors.New("boom") })
	assert.Equal(t, StateClosed, r.Get("rerank").State())
	_ = r.Call("rerank", func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, r.Get("rerank").State())
}
