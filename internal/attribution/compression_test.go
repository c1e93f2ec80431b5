package attribution

import (
	"context"
	"errors"
	"testing"

	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"github.com/aihub/knowledge-retrieval/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_SelectsHighSimilaritySentences(t *testing.T) {
	embedder := &fakeEmbedder{ready: true, vecs: map[string][]float32{
		"refund policy":           {1, 0, 0},
		"Refunds take 30 days":    {1, 0, 0},
		"Shipping takes a week":   {0, 1, 0},
	}}
	c := NewCompressor(embedder, newBreakers(), resilience.RetryOptions{MaxAttempts: 1}, nil)

	hits := []retrieval.Hit{
		{ChunkID: 1, Content: "Refunds take 30 days. Shipping takes a week.", Score: 0.9},
	}
	result := c.Compress(context.Background(), "refund policy", hits, 1000)
	require.False(t, result.Degraded)
	require.Len(t, result.Excerpts, 1)
	assert.Contains(t, result.Excerpts[0].Text, "Refunds take 30 days")
	assert.NotContains(t, result.Excerpts[0].Text, "Shipping takes a week")
}

func TestCompress_DegradesToTruncationWhenEmbedderDown(t *testing.T) {
	embedder := &fakeEmbedder{ready: true, err: errors.New("down")}
	c := NewCompressor(embedder, newBreakers(), resilience.RetryOptions{MaxAttempts: 1}, nil)

	hits := []retrieval.Hit{
		{ChunkID: 1, Content: "This is a reasonably long chunk of content that should get truncated under a tight budget.", Score: 0.5},
	}
	result := c.Compress(context.Background(), "q", hits, 5)
	require.True(t, result.Degraded)
	require.Len(t, result.Excerpts, 1)
	assert.LessOrEqual(t, len([]rune(result.Excerpts[0].Text)), len([]rune(hits[0].Content)))
}

func TestCompress_StopsWhenBudgetExceeded(t *testing.T) {
	embedder := &fakeEmbedder{ready: false}
	c := NewCompressor(embedder, newBreakers(), resilience.RetryOptions{MaxAttempts: 1}, nil)

	hits := []retrieval.Hit{
		{ChunkID: 1, Content: "first chunk with some reasonably long content to burn through the budget quickly", Score: 0.9},
		{ChunkID: 2, Content: "second chunk with some reasonably long content to burn through the budget quickly", Score: 0.8},
		{ChunkID: 3, Content: "third chunk with some reasonably long content to burn through the budget quickly", Score: 0.7},
	}
	result := c.Compress(context.Background(), "q", hits, 10)
	// Each hit truncates to about 4 estimated tokens; the third would take
	// the total from 8 past the budget of 10.
	assert.Len(t, result.Excerpts, 2)
	assert.True(t, result.Degraded)
}

func TestCompress_EmptyHitsReturnsEmptyResult(t *testing.T) {
	embedder := &fakeEmbedder{ready: true}
	c := NewCompressor(embedder, newBreakers(), resilience.RetryOptions{MaxAttempts: 1}, nil)
	result := c.Compress(context.Background(), "q", nil, 100)
	assert.Empty(t, result.Excerpts)
}

func TestEstimateTokens_EmptyStringIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokens_NonEmptyIsPositive(t *testing.T) {
	assert.Greater(t, EstimateTokens("hello world, this is a test sentence."), 0)
}
