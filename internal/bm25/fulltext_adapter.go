package bm25

import (
	"context"

	"github.com/aihub/knowledge-retrieval/internal/knowledge"
)

// FulltextAdapter makes a *Manager satisfy knowledge.FulltextIndexer, so
// the hybrid retrieval engine can use the in-process BM25 index the same
// way it would any other sparse backend.
type FulltextAdapter struct {
	manager *Manager
	// SearchK bounds how many raw BM25 hits are requested before the
	// caller's own Limit truncation; defaults to 2x the caller's limit
	// when zero (§4.1 "top_k*2" sparse pass).
	SearchK int
}

// NewFulltextAdapter wraps manager for use as a knowledge.FulltextIndexer.
func NewFulltextAdapter(manager *Manager) *FulltextAdapter {
	return &FulltextAdapter{manager: manager}
}

func (a *FulltextAdapter) IndexChunk(ctx context.Context, chunk knowledge.FulltextChunk) error {
	return a.manager.Upsert(ctx, chunk.KnowledgeBaseID, []Chunk{
		{ChunkID: chunk.ChunkID, DocumentID: chunk.DocumentID, Content: chunk.Content},
	})
}

// DeleteChunks removes chunkIDs directly, for reconciliation purging of
// postings that outlived their repository row.
func (a *FulltextAdapter) DeleteChunks(ctx context.Context, knowledgeBaseID uint, chunkIDs []uint) error {
	return a.manager.Delete(ctx, knowledgeBaseID, chunkIDs)
}

func (a *FulltextAdapter) RemoveDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	idx, err := a.manager.GetOrBuild(ctx, knowledgeBaseID)
	if err != nil {
		return err
	}
	return a.manager.Delete(ctx, knowledgeBaseID, idx.ChunksOfDocument(documentID))
}

// IndexedChunkIDs returns every chunk id currently indexed for
// knowledgeBaseID, for reconciliation against the repository.
func (a *FulltextAdapter) IndexedChunkIDs(ctx context.Context, knowledgeBaseID uint) ([]uint, error) {
	return a.manager.ChunkIDs(ctx, knowledgeBaseID)
}

func (a *FulltextAdapter) Search(ctx context.Context, req knowledge.FulltextSearchRequest) ([]knowledge.SearchMatch, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	k := a.SearchK
	if k <= 0 {
		k = limit * 2
	}

	results, err := a.manager.Search(ctx, req.KnowledgeBaseID, req.Query, k)
	if err != nil {
		return nil, err
	}

	matches := make([]knowledge.SearchMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, knowledge.SearchMatch{
			ChunkID:         r.ChunkID,
			KnowledgeBaseID: req.KnowledgeBaseID,
			Score:           r.Score,
		})
	}
	return matches, nil
}

func (a *FulltextAdapter) Ready() bool {
	return a.manager != nil
}
