package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProvider struct {
	name      string
	available bool
	err       error
}

func (f fakeProvider) Name() string                       { return f.name }
func (f fakeProvider) Available(ctx context.Context) bool { return f.available }

func TestFailover_UsesFirstAvailable(t *testing.T) {
	providers := []fakeProvider{
		{name: "openai", available: true},
		{name: "anthropic", available: true},
	}

	var used string
	err := Failover(context.Background(), providers, func(p fakeProvider) error {
		used = p.name
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "openai", used)
}

func TestFailover_SkipsUnavailableAndFailed(t *testing.T) {
	providers := []fakeProvider{
		{name: "down", available: false},
		{name: "flaky", available: true, err: errors.New("500")},
		{name: "good", available: true},
	}

	var used []string
	err := Failover(context.Background(), providers, func(p fakeProvider) error {
		used = append(used, p.name)
		return p.err
	})

	assert.NoError(t, err)
	assert.Equal(t, []string{"flaky", "good"}, used)
}

func TestFailover_AllExhausted(t *testing.T) {
	providers := []fakeProvider{
		{name: "a", available: true, err: errors.New("boom")},
		{name: "b", available: false},
	}

	err := Failover(context.Background(), providers, func(p fakeProvider) error {
		return p.err
	})

	var exhausted *ErrAllProvidersExhausted
	assert.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []string{"a"}, exhausted.Tried)
}

func TestFailover_NoneAvailable(t *testing.T) {
	providers := []fakeProvider{{name: "a", available: false}}

	err := Failover(context.Background(), providers, func(p fakeProvider) error {
		t.Fatal("should not be called")
		return nil
	})

	var exhausted *ErrAllProvidersExhausted
	assert.ErrorAs(t, err, &exhausted)
	assert.Empty(t, exhausted.Tried)
}
