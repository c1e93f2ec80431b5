package bm25

import (
	"context"
	"testing"
	"time"

	"github.com/aihub/knowledge-retrieval/internal/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulltextAdapter_IndexAndSearch(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour, nil)
	adapter := NewFulltextAdapter(m)
	ctx := context.Background()

	require.NoError(t, adapter.IndexChunk(ctx, knowledge.FulltextChunk{
		ChunkID:         1,
		DocumentID:      10,
		KnowledgeBaseID: 1,
		Content:         "annual compliance audit findings",
	}))

	matches, err := adapter.Search(ctx, knowledge.FulltextSearchRequest{
		KnowledgeBaseID: 1,
		Query:           "compliance audit",
		Limit:           5,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, uint(1), matches[0].ChunkID)
	assert.True(t, adapter.Ready())
}

func TestFulltextAdapter_RemoveDocumentDeletesAllItsChunks(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour, nil)
	adapter := NewFulltextAdapter(m)
	ctx := context.Background()

	require.NoError(t, adapter.IndexChunk(ctx, knowledge.FulltextChunk{ChunkID: 1, DocumentID: 10, KnowledgeBaseID: 1, Content: "part one"}))
	require.NoError(t, adapter.IndexChunk(ctx, knowledge.FulltextChunk{ChunkID: 2, DocumentID: 10, KnowledgeBaseID: 1, Content: "part two"}))
	require.NoError(t, adapter.IndexChunk(ctx, knowledge.FulltextChunk{ChunkID: 3, DocumentID: 20, KnowledgeBaseID: 1, Content: "other document"}))

	require.NoError(t, adapter.RemoveDocument(ctx, 1, 10))

	idx, err := m.GetOrBuild(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.N())
}
