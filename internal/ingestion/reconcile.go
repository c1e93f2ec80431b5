package ingestion

import (
	"context"
	"fmt"

	"github.com/aihub/knowledge-retrieval/internal/knowledge"
	"github.com/aihub/knowledge-retrieval/internal/logger"
	"github.com/aihub/knowledge-retrieval/internal/models"
	"go.uber.org/zap"
)

// ReconcileReport summarizes one knowledge base's reconciliation pass.
type ReconcileReport struct {
	KnowledgeBaseID  uint
	ChunksChecked    int
	BM25Reindexed    int
	BM25Purged       int
	VectorReupserted int
}

// ReconcileAll runs Reconcile for every active knowledge base, on startup
// or on demand (§4.2 "consistency with vector store", §7 "Reconciliation
// runs on startup and on demand").
func (p *Pipeline) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	kbs, err := p.repo.ListActiveKBs(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile all: list active kbs: %w", err)
	}
	reports := make([]ReconcileReport, 0, len(kbs))
	for _, kb := range kbs {
		report, err := p.Reconcile(ctx, kb.KnowledgeBaseID)
		if err != nil {
			logger.Error("reconcile: knowledge base failed, continuing with the rest",
				zap.Uint("knowledge_base_id", kb.KnowledgeBaseID), zap.Error(err))
			continue
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

// Reconcile makes the BM25 index and the vector store agree with the
// repository's chunk set for one knowledge base: chunks present in the
// repository but missing from BM25 are re-indexed, BM25 postings for
// chunks no longer in the repository are purged, and every repository
// chunk is re-upserted into the vector store.
//
// The vector-store side can only ever re-add, never purge: §6's VectorStore
// backend contract is deliberately opaque (create/upsert/search/delete_by_ids,
// no enumerate), so there is no way to list what the backend actually holds
// and diff it against the repository the way BM25's ChunkIDs() allows.
// Re-upserting every chunk is idempotent and cheap enough for an on-demand
// or startup pass, and is what recovers from the case §8's reconciliation
// scenario describes - a chunk's vector quietly dropped out from under a
// repository row that still thinks it has one.
func (p *Pipeline) Reconcile(ctx context.Context, kbID uint) (*ReconcileReport, error) {
	chunks, err := p.allChunks(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("reconcile kb %d: %w", kbID, err)
	}
	report := &ReconcileReport{KnowledgeBaseID: kbID, ChunksChecked: len(chunks)}

	repoByID := make(map[uint]models.KnowledgeChunk, len(chunks))
	for _, c := range chunks {
		repoByID[c.ChunkID] = c
	}

	if err := p.reconcileFulltext(ctx, kbID, chunks, repoByID, report); err != nil {
		logger.Warn("reconcile: fulltext pass failed, continuing with vector store",
			zap.Uint("knowledge_base_id", kbID), zap.Error(err))
	}

	if p.vectors != nil && p.vectors.Ready() {
		p.reconcileVectors(ctx, chunks, report)
	}

	logger.Info("reconciliation complete",
		zap.Uint("knowledge_base_id", kbID),
		zap.Int("chunks_checked", report.ChunksChecked),
		zap.Int("bm25_reindexed", report.BM25Reindexed),
		zap.Int("bm25_purged", report.BM25Purged),
		zap.Int("vector_reupserted", report.VectorReupserted))
	return report, nil
}

func (p *Pipeline) allChunks(ctx context.Context, kbID uint) ([]models.KnowledgeChunk, error) {
	const pageSize = 256
	var all []models.KnowledgeChunk
	for offset := 0; ; offset += pageSize {
		page, err := p.repo.ListChunks(ctx, kbID, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}
	return all, nil
}

func (p *Pipeline) reconcileFulltext(ctx context.Context, kbID uint, chunks []models.KnowledgeChunk, repoByID map[uint]models.KnowledgeChunk, report *ReconcileReport) error {
	indexed, err := p.fulltext.IndexedChunkIDs(ctx, kbID)
	if err != nil {
		return fmt.Errorf("list indexed chunk ids: %w", err)
	}
	indexedSet := make(map[uint]bool, len(indexed))
	for _, id := range indexed {
		indexedSet[id] = true
	}

	for _, c := range chunks {
		if indexedSet[c.ChunkID] {
			continue
		}
		fc := knowledge.FulltextChunk{
			ChunkID:         c.ChunkID,
			DocumentID:      c.DocumentID,
			KnowledgeBaseID: c.KnowledgeBaseID,
			Content:         c.Content,
			ChunkIndex:      c.ChunkIndex,
		}
		if err := p.fulltext.IndexChunk(ctx, fc); err != nil {
			logger.Warn("reconcile: re-index chunk failed", zap.Uint("chunk_id", c.ChunkID), zap.Error(err))
			continue
		}
		report.BM25Reindexed++
	}

	var orphans []uint
	for _, id := range indexed {
		if _, ok := repoByID[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := p.fulltext.DeleteChunks(ctx, kbID, orphans); err != nil {
			return fmt.Errorf("purge %d orphaned bm25 postings: %w", len(orphans), err)
		}
		report.BM25Purged = len(orphans)
	}
	return nil
}

func (p *Pipeline) reconcileVectors(ctx context.Context, chunks []models.KnowledgeChunk, report *ReconcileReport) {
	if p.embedder == nil || !p.embedder.Ready() {
		return
	}
	for _, c := range chunks {
		embeddings, err := p.embedAll(ctx, []knowledge.Chunk{{Index: c.ChunkIndex, Text: c.Content}})
		if err != nil {
			logger.Warn("reconcile: embed chunk failed", zap.Uint("chunk_id", c.ChunkID), zap.Error(err))
			continue
		}
		vc := knowledge.VectorChunk{
			ChunkID:         c.ChunkID,
			DocumentID:      c.DocumentID,
			KnowledgeBaseID: c.KnowledgeBaseID,
			Text:            c.Content,
			Embedding:       embeddings[0],
		}
		vectorID, err := p.upsertVector(ctx, vc)
		if err != nil {
			logger.Warn("reconcile: upsert vector failed", zap.Uint("chunk_id", c.ChunkID), zap.Error(err))
			continue
		}
		report.VectorReupserted++
		if vectorID != "" && vectorID != c.VectorID {
			if err := p.repo.UpdateChunkVectorID(ctx, c.ChunkID, vectorID); err != nil {
				logger.Warn("reconcile: record vector id failed", zap.Uint("chunk_id", c.ChunkID), zap.Error(err))
			}
		}
	}
}
