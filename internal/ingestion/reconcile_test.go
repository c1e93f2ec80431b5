package ingestion

import (
	"context"
	"testing"

	"github.com/aihub/knowledge-retrieval/internal/bm25"
	"github.com/aihub/knowledge-retrieval/internal/models"
	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_Reconcile_ReindexesMissingBM25Entries(t *testing.T) {
	repo := newFakeRepo()
	repo.kbs[1] = &models.KnowledgeBase{KnowledgeBaseID: 1}
	repo.chunks = []models.KnowledgeChunk{
		{ChunkID: 1, KnowledgeBaseID: 1, DocumentID: 10, ChunkIndex: 0, Content: "alpha beta gamma"},
		{ChunkID: 2, KnowledgeBaseID: 1, DocumentID: 10, ChunkIndex: 1, Content: "delta epsilon zeta"},
	}

	manager := bm25.NewManager("", 0, nil)
	fulltext := bm25.NewFulltextAdapter(manager)
	require.NoError(t, manager.Upsert(context.Background(), 1, []bm25.Chunk{
		{ChunkID: 1, DocumentID: 10, Content: "alpha beta gamma"},
	}))

	embedder := &stubEmbedder{ready: true}
	vectors := &stubVectorStore{ready: true}
	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerOptions{})
	retryOpts := resilience.RetryOptions{MaxAttempts: 1}
	db, _ := newMockGormDB(t)
	lifecycle := NewLifecycle(db)
	p := NewPipeline(repo, lifecycle, embedder, vectors, fulltext, breakers, retryOpts)

	report, err := p.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ChunksChecked)
	assert.Equal(t, 1, report.BM25Reindexed)
	assert.Equal(t, 0, report.BM25Purged)
	assert.Equal(t, 2, report.VectorReupserted)

	ids, err := manager.ChunkIDs(context.Background(), 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 2}, ids)
}

func TestPipeline_Reconcile_PurgesOrphanedBM25Postings(t *testing.T) {
	repo := newFakeRepo()
	repo.kbs[1] = &models.KnowledgeBase{KnowledgeBaseID: 1}
	repo.chunks = []models.KnowledgeChunk{
		{ChunkID: 1, KnowledgeBaseID: 1, DocumentID: 10, ChunkIndex: 0, Content: "alpha beta gamma"},
	}

	manager := bm25.NewManager("", 0, nil)
	fulltext := bm25.NewFulltextAdapter(manager)
	require.NoError(t, manager.Upsert(context.Background(), 1, []bm25.Chunk{
		{ChunkID: 1, DocumentID: 10, Content: "alpha beta gamma"},
		{ChunkID: 99, DocumentID: 11, Content: "stale orphan chunk"},
	}))

	embedder := &stubEmbedder{ready: false}
	vectors := &stubVectorStore{ready: false}
	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerOptions{})
	retryOpts := resilience.RetryOptions{MaxAttempts: 1}
	db, _ := newMockGormDB(t)
	lifecycle := NewLifecycle(db)
	p := NewPipeline(repo, lifecycle, embedder, vectors, fulltext, breakers, retryOpts)

	report, err := p.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.BM25Purged)

	ids, err := manager.ChunkIDs(context.Background(), 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1}, ids)
}

func TestPipeline_Reconcile_RestoresDroppedVector(t *testing.T) {
	repo := newFakeRepo()
	repo.kbs[1] = &models.KnowledgeBase{KnowledgeBaseID: 1}
	repo.chunks = []models.KnowledgeChunk{
		{ChunkID: 5, KnowledgeBaseID: 1, DocumentID: 10, ChunkIndex: 0, Content: "content for chunk five", VectorID: "vec-5"},
	}

	manager := bm25.NewManager("", 0, nil)
	fulltext := bm25.NewFulltextAdapter(manager)
	require.NoError(t, manager.Upsert(context.Background(), 1, []bm25.Chunk{
		{ChunkID: 5, DocumentID: 10, Content: "content for chunk five"},
	}))

	embedder := &stubEmbedder{ready: true}
	vectors := &stubVectorStore{ready: true}
	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerOptions{})
	retryOpts := resilience.RetryOptions{MaxAttempts: 1}
	db, _ := newMockGormDB(t)
	lifecycle := NewLifecycle(db)
	p := NewPipeline(repo, lifecycle, embedder, vectors, fulltext, breakers, retryOpts)

	report, err := p.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.VectorReupserted)
	assert.Equal(t, 1, vectors.calls)
	// The re-upsert returns the id already stored on the chunk, so the
	// repository keeps "vec-5" and is not rewritten.
	assert.Equal(t, "vec-5", repo.chunks[0].VectorID)
	assert.NotContains(t, repo.vectorIDs, uint(5))
}
