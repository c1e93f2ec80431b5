package rewrite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemorySessionStore_AppendAndHistory(t *testing.T) {
	s := NewInMemorySessionStore(3)
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		require.NoError(t, s.Append(ctx, "conv", Turn{Content: q}))
	}

	history, err := s.History(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"q2", "q3", "q4"}, []string{history[0].Content, history[1].Content, history[2].Content})
}

func TestInMemorySessionStore_IsolatesConversations(t *testing.T) {
	s := NewInMemorySessionStore(10)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "conv-a", Turn{Content: "a1"}))
	require.NoError(t, s.Append(ctx, "conv-b", Turn{Content: "b1"}))

	histA, _ := s.History(ctx, "conv-a")
	histB, _ := s.History(ctx, "conv-b")
	require.Len(t, histA, 1)
	require.Len(t, histB, 1)
	assert.Equal(t, "a1", histA[0].Content)
	assert.Equal(t, "b1", histB[0].Content)
}

func TestInMemorySessionStore_EmptyHistoryForUnknownConversation(t *testing.T) {
	s := NewInMemorySessionStore(10)
	history, err := s.History(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, history)
}
