package llm

import "context"

// ChatMessage is one turn in a chat-completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is the provider-agnostic request shape the resilience layer
// and query rewriter issue against whichever provider failover selects.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	// JSONMode asks the provider to constrain output to valid JSON, used by
	// the query rewriter's structured rewritten/variants/confidence schema.
	JSONMode bool
}

// ChatResponse is the provider-agnostic completion result.
type ChatResponse struct {
	Content      string
	Provider     string
	Model        string
	PromptTokens int
	CompletionTokens int
}

// Provider is one LLM backend the failover manager can route to. Ready is
// a cheap liveness check (client configured, API key present) - it is not
// a live network probe.
type Provider interface {
	Name() string
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Ready() bool
}

// RetryableError marks provider-side failures the resilience retry/failover
// policy should treat as transient (rate limits, timeouts, 5xx) rather than
// permanent (bad request, invalid model).
type RetryableError struct {
	Provider string
	Err      error
}

func (e *RetryableError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is (or wraps) a *RetryableError, the
// predicate the resilience retry/failover policy consults before moving on
// to the next provider or attempt.
func IsRetryable(err error) bool {
	var re *RetryableError
	return asRetryableError(err, &re)
}

func asRetryableError(err error, target **RetryableError) bool {
	for err != nil {
		if re, ok := err.(*RetryableError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
