package resilience

import (
	"context"
	"fmt"
)

// ErrAllProvidersExhausted is returned when every candidate in a priority
// list has been tried (or skipped as unavailable) and none succeeded.
type ErrAllProvidersExhausted struct {
	Tried []string
	Last  error
}

func (e *ErrAllProvidersExhausted) Error() string {
	return fmt.Sprintf("all providers exhausted %v: %v", e.Tried, e.Last)
}

func (e *ErrAllProvidersExhausted) Unwrap() error { return e.Last }

// FailoverCandidate is anything that can be tried in priority order and
// asked whether it is currently usable before being tried.
type FailoverCandidate interface {
	Name() string
	Available(ctx context.Context) bool
}

// Failover walks priority (a static order supplied by the caller) and
// calls fn on the first candidate whose
// Available reports true, falling through to the next on error. It never
// reorders priority itself; that list is the single source of truth for
// which provider is "primary".
func Failover[T FailoverCandidate](ctx context.Context, priority []T, fn func(T) error) error {
	var tried []string
	var lastErr error

	for _, candidate := range priority {
		if !candidate.Available(ctx) {
			continue
		}
		tried = append(tried, candidate.Name())
		if err := fn(candidate); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if len(tried) == 0 {
		return &ErrAllProvidersExhausted{Tried: tried, Last: fmt.Errorf("no candidate reported available")}
	}
	return &ErrAllProvidersExhausted{Tried: tried, Last: lastErr}
}
