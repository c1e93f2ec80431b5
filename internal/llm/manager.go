package llm

import (
	"context"
	"fmt"

	"github.com/aihub/knowledge-retrieval/internal/resilience"
)

// candidate adapts a Provider to resilience.FailoverCandidate: available
// means both "configured" (Ready) and "not circuit-open".
type candidate struct {
	provider Provider
	breaker  *resilience.CircuitBreaker
}

func (c candidate) Name() string { return c.provider.Name() }

func (c candidate) Available(ctx context.Context) bool {
	return c.provider.Ready() && c.breaker.State() != resilience.StateOpen
}

// Manager tries a fixed provider list in the order it is given (index 0
// first) and wraps every call through a per-provider circuit breaker, a
// retry policy, and failover across the remaining providers.
// It is the single entrypoint every caller (query rewriter, answer
// generation) should use instead of talking to a Provider directly.
type Manager struct {
	candidates []candidate
	retryOpts  resilience.RetryOptions
	degrade    *resilience.DegradationManager
}

// NewManager builds a manager from providers in priority order (index 0 is
// tried first). breakers supplies one *CircuitBreaker per provider name.
func NewManager(providers []Provider, breakers *resilience.BreakerRegistry, retryOpts resilience.RetryOptions, degrade *resilience.DegradationManager) *Manager {
	retryOpts.IsRetryable = IsRetryable
	candidates := make([]candidate, 0, len(providers))
	for _, p := range providers {
		candidates = append(candidates, candidate{
			provider: p,
			breaker:  breakers.Get("llm:" + p.Name()),
		})
	}
	return &Manager{candidates: candidates, retryOpts: retryOpts, degrade: degrade}
}

// ChatCompletion tries providers in priority order, skipping any whose
// circuit is open, retrying transient failures within each provider before
// moving to the next. If every provider is open or fails, it returns the
// degradation manager's canned response alongside a non-nil error so
// callers can distinguish "answered" from "degraded".
func (m *Manager) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, resilience.DegradedResponse, error) {
	var resp *ChatResponse

	err := resilience.Failover(ctx, m.candidates, func(c candidate) error {
		return c.breaker.Call(func() error {
			return resilience.Retry(ctx, m.retryOpts, func() error {
				r, err := c.provider.ChatCompletion(ctx, req)
				if err != nil {
					return err
				}
				resp = r
				return nil
			})
		})
	})

	if err != nil {
		return nil, m.degrade.Respond(), fmt.Errorf("llm chat completion: %w", err)
	}
	return resp, resilience.DegradedResponse{}, nil
}
