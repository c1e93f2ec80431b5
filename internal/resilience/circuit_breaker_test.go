package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("embedding", CircuitBreakerOptions{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})

	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return failing })
		assert.ErrorIs(t, err, failing)
	}

	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(func() error { return nil })
	var open *ErrCircuitOpen
	assert.ErrorAs(t, err, &open)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("vector_store", CircuitBreakerOptions{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Millisecond,
	})

	_ = cb.Call(func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("rerank", CircuitBreakerOptions{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Millisecond,
	})

	_ = cb.Call(func() error { return errors.New("down") })
	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Call(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenConcurrencyLimit(t *testing.T) {
	cb := NewCircuitBreaker("llm", CircuitBreakerOptions{
		FailureThreshold:      1,
		SuccessThreshold:      5,
		RecoveryTimeout:       time.Millisecond,
		HalfOpenMaxConcurrent: 1,
	})
	_ = cb.Call(func() error { return errors.New("down") })
	time.Sleep(2 * time.Millisecond)

	cb.halfOpenInFlight.Add(1)
	err := cb.Call(func() error { return nil })
	var open *ErrCircuitOpen
	assert.ErrorAs(t, err, &open)
}

func TestCircuitBreaker_ExcludedErrorsDontCount(t *testing.T) {
	programmerErr := errors.New("nil pointer dereference")
	cb := NewCircuitBreaker("llm", CircuitBreakerOptions{
		FailureThreshold: 1,
		IsExcluded: func(err error) bool {
			return errors.Is(err, programmerErr)
		},
	})

	for i := 0; i < 5; i++ {
		err := cb.Call(func() error { return programmerErr })
		assert.ErrorIs(t, err, programmerErr)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ResetIsIdempotent(t *testing.T) {
	cb := NewCircuitBreaker("embedding", CircuitBreakerOptions{FailureThreshold: 1})
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Call(func() error { return errors.New("x") })
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(func() error { return nil }))
}

func TestCircuitBreaker_ForceOpen(t *testing.T) {
	cb := NewCircuitBreaker("llm", CircuitBreakerOptions{})
	assert.Equal(t, StateClosed, cb.State())
	cb.ForceOpen()
	assert.Equal(t, StateOpen, cb.State())
}
