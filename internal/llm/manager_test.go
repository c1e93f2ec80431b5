package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"github.com/stretchr/testify/assert"
)

type stubProvider struct {
	name  string
	ready bool
	resp  *ChatResponse
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Ready() bool  { return s.ready }
func (s *stubProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newManagerWithProviders(providers []Provider) *Manager {
	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerOptions{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	degrade := resilience.NewDegradationManager("try again", []string{"knowledge_base_search"}, nil)
	retry := resilience.RetryOptions{MaxAttempts: 1, BaseDelay: time.Millisecond}
	return NewManager(providers, breakers, retry, degrade)
}

func TestManager_UsesFirstReadyProvider(t *testing.T) {
	primary := &stubProvider{name: "openai", ready: true, resp: &ChatResponse{Content: "hi"}}
	secondary := &stubProvider{name: "backup", ready: true, resp: &ChatResponse{Content: "backup-hi"}}

	m := newManagerWithProviders([]Provider{primary, secondary})
	resp, _, err := m.ChatCompletion(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hello"}}})

	assert.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)
}

func TestManager_FailsOverToNextProvider(t *testing.T) {
	primary := &stubProvider{name: "openai", ready: true, err: &RetryableError{Provider: "openai", Err: errors.New("rate limited")}}
	secondary := &stubProvider{name: "backup", ready: true, resp: &ChatResponse{Content: "backup-hi"}}

	m := newManagerWithProviders([]Provider{primary, secondary})
	resp, _, err := m.ChatCompletion(context.Background(), ChatRequest{})

	assert.NoError(t, err)
	assert.Equal(t, "backup-hi", resp.Content)
}

func TestManager_SkipsNotReadyProvider(t *testing.T) {
	primary := &stubProvider{name: "openai", ready: false}
	secondary := &stubProvider{name: "backup", ready: true, resp: &ChatResponse{Content: "backup-hi"}}

	m := newManagerWithProviders([]Provider{primary, secondary})
	resp, _, err := m.ChatCompletion(context.Background(), ChatRequest{})

	assert.NoError(t, err)
	assert.Equal(t, "backup-hi", resp.Content)
	assert.Equal(t, 0, primary.calls)
}

func TestManager_AllProvidersFailReturnsDegradedResponse(t *testing.T) {
	failing := errors.New("down")
	primary := &stubProvider{name: "openai", ready: true, err: failing}

	m := newManagerWithProviders([]Provider{primary})
	_, degraded, err := m.ChatCompletion(context.Background(), ChatRequest{})

	assert.Error(t, err)
	assert.True(t, degraded.Degraded)
	assert.NotEmpty(t, degraded.Message)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&RetryableError{Provider: "openai", Err: errors.New("x")}))
	assert.False(t, IsRetryable(errors.New("plain")))
}
