package rewrite

import (
	"context"
	"errors"
	"testing"

	"github.com/aihub/knowledge-retrieval/internal/llm"
	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChat struct {
	resp *llm.ChatResponse
	err  error
}

func (s *stubChat) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, resilience.DegradedResponse, error) {
	if s.err != nil {
		return nil, resilience.DegradedResponse{Degraded: true}, s.err
	}
	return s.resp, resilience.DegradedResponse{}, nil
}

func TestRewrite_NoHistoryIsPassthrough(t *testing.T) {
	store := NewInMemorySessionStore(10)
	chat := &stubChat{resp: &llm.ChatResponse{Content: `{"rewritten":"should not be used","confidence":0.9}`}}
	r := NewRewriter(store, chat, "gpt-4o-mini", 2, true)

	result, err := r.Rewrite(context.Background(), "conv-1", "what is the refund window")
	require.NoError(t, err)
	assert.Equal(t, "what is the refund window", result.Main)
	assert.Empty(t, result.Variants)
}

func TestRewrite_WithHistoryUsesLLMRewrite(t *testing.T) {
	store := NewInMemorySessionStore(10)
	_ = store.Append(context.Background(), "conv-2", Turn{Content: "tell me about the Orion plan"})
	chat := &stubChat{resp: &llm.ChatResponse{Content: `{"rewritten":"what is the price of the Orion plan","variants":["Orion plan pricing","cost of Orion plan"],"confidence":0.8}`}}
	r := NewRewriter(store, chat, "gpt-4o-mini", 2, true)

	result, err := r.Rewrite(context.Background(), "conv-2", "how much does it cost")
	require.NoError(t, err)
	assert.Equal(t, "what is the price of the Orion plan", result.Main)
	assert.Len(t, result.Variants, 2)
}

func TestRewrite_LowConfidenceFallsBackToOriginal(t *testing.T) {
	store := NewInMemorySessionStore(10)
	_ = store.Append(context.Background(), "conv-3", Turn{Content: "tell me about Orion"})
	chat := &stubChat{resp: &llm.ChatResponse{Content: `{"rewritten":"guessed rewrite","confidence":0.1}`}}
	r := NewRewriter(store, chat, "gpt-4o-mini", 2, true)

	result, err := r.Rewrite(context.Background(), "conv-3", "how much does it cost")
	require.NoError(t, err)
	assert.Equal(t, "how much does it cost", result.Main)
}

func TestRewrite_LLMFailureDegradesSilently(t *testing.T) {
	store := NewInMemorySessionStore(10)
	_ = store.Append(context.Background(), "conv-4", Turn{Content: "tell me about Orion"})
	chat := &stubChat{err: errors.New("all providers exhausted")}
	r := NewRewriter(store, chat, "gpt-4o-mini", 2, true)

	result, err := r.Rewrite(context.Background(), "conv-4", "how much does it cost")
	require.NoError(t, err)
	assert.Equal(t, "how much does it cost", result.Main)
}

func TestRewrite_ExpansionDisabledIsPassthrough(t *testing.T) {
	store := NewInMemorySessionStore(10)
	_ = store.Append(context.Background(), "conv-5", Turn{Content: "tell me about Orion"})
	chat := &stubChat{resp: &llm.ChatResponse{Content: `{"rewritten":"should not be used","confidence":0.9}`}}
	r := NewRewriter(store, chat, "gpt-4o-mini", 2, false)

	result, err := r.Rewrite(context.Background(), "conv-5", "how much does it cost")
	require.NoError(t, err)
	assert.Equal(t, "how much does it cost", result.Main)
}

func TestRewrite_VariantsCappedAtMaxVariations(t *testing.T) {
	store := NewInMemorySessionStore(10)
	_ = store.Append(context.Background(), "conv-6", Turn{Content: "tell me about Orion"})
	chat := &stubChat{resp: &llm.ChatResponse{Content: `{"rewritten":"what is Orion pricing","variants":["a","b","c","d"],"confidence":0.9}`}}
	r := NewRewriter(store, chat, "gpt-4o-mini", 1, true)

	result, err := r.Rewrite(context.Background(), "conv-6", "how much")
	require.NoError(t, err)
	assert.Len(t, result.Variants, 1)
}

func TestRewrite_DropsNearDuplicateVariant(t *testing.T) {
	store := NewInMemorySessionStore(10)
	_ = store.Append(context.Background(), "conv-8", Turn{Content: "tell me about Orion"})
	chat := &stubChat{resp: &llm.ChatResponse{Content: `{"rewritten":"what is the price of the Orion plan","variants":["what is the price of the Orion plan?","cost of Orion plan"],"confidence":0.9}`}}
	r := NewRewriter(store, chat, "gpt-4o-mini", 3, true)

	result, err := r.Rewrite(context.Background(), "conv-8", "how much")
	require.NoError(t, err)
	assert.NotContains(t, result.Variants, "what is the price of the Orion plan?")
	assert.Contains(t, result.Variants, "cost of Orion plan")
}

func TestNormalizedSimilarity_IdenticalIsOne(t *testing.T) {
	assert.Equal(t, 1.0, normalizedSimilarity("same text", "same text"))
}

func TestNormalizedSimilarity_EmptyStringsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, normalizedSimilarity("", ""))
}

func TestRewrite_AppendsTurnRegardlessOfOutcome(t *testing.T) {
	store := NewInMemorySessionStore(10)
	r := NewRewriter(store, nil, "", 2, true)

	_, _ = r.Rewrite(context.Background(), "conv-7", "first query")
	history, err := store.History(context.Background(), "conv-7")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "first query", history[0].Content)
}
