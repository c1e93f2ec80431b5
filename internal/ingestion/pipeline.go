package ingestion

import (
	"context"
	"fmt"

	"github.com/aihub/knowledge-retrieval/internal/bm25"
	"github.com/aihub/knowledge-retrieval/internal/knowledge"
	"github.com/aihub/knowledge-retrieval/internal/logger"
	"github.com/aihub/knowledge-retrieval/internal/models"
	"github.com/aihub/knowledge-retrieval/internal/repository"
	"github.com/aihub/knowledge-retrieval/internal/resilience"
	"go.uber.org/zap"
)

// Pipeline turns a document's raw content into committed chunks: it
// splits the text, embeds each piece, writes it to the vector store and
// the BM25 index, and persists the chunk rows, driving the document
// through the lifecycle as it goes (§2 "ambient data flow", §4.2
// "commit-or-rollback at chunk-set granularity").
type Pipeline struct {
	repo      repository.CoreRepository
	lifecycle *Lifecycle
	embedder  knowledge.Embedder
	vectors   knowledge.VectorStore
	fulltext  *bm25.FulltextAdapter
	breakers  *resilience.BreakerRegistry
	retryOpts resilience.RetryOptions
}

func NewPipeline(
	repo repository.CoreRepository,
	lifecycle *Lifecycle,
	embedder knowledge.Embedder,
	vectors knowledge.VectorStore,
	fulltext *bm25.FulltextAdapter,
	breakers *resilience.BreakerRegistry,
	retryOpts resilience.RetryOptions,
) *Pipeline {
	return &Pipeline{
		repo:      repo,
		lifecycle: lifecycle,
		embedder:  embedder,
		vectors:   vectors,
		fulltext:  fulltext,
		breakers:  breakers,
		retryOpts: retryOpts,
	}
}

// Ingest processes one document end to end. On any failure it marks the
// document failed (a legal transition from processing) and returns the
// error; callers may later retry via the failed->pending edge.
func (p *Pipeline) Ingest(ctx context.Context, documentID uint) error {
	doc, err := p.repo.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("ingest: load document %d: %w", documentID, err)
	}

	if err := p.lifecycle.Transition(ctx, documentID, models.DocumentStatusProcessing); err != nil {
		return fmt.Errorf("ingest: start processing document %d: %w", documentID, err)
	}

	if err := p.commit(ctx, doc); err != nil {
		if ferr := p.lifecycle.Transition(ctx, documentID, models.DocumentStatusFailed); ferr != nil {
			logger.Error("ingest: failed to mark document failed after commit error",
				zap.Uint("document_id", documentID), zap.Error(ferr))
		}
		return fmt.Errorf("ingest: commit document %d: %w", documentID, err)
	}

	if err := p.lifecycle.Transition(ctx, documentID, models.DocumentStatusCompleted); err != nil {
		return fmt.Errorf("ingest: complete document %d: %w", documentID, err)
	}
	return nil
}

// commit splits, embeds, indexes and persists a document's chunks. It
// replaces any previously committed chunks for the document first, so a
// retry never leaves stale chunks from an earlier attempt alongside the
// new set.
func (p *Pipeline) commit(ctx context.Context, doc *models.KnowledgeDocument) error {
	kb, err := p.repo.GetKB(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return fmt.Errorf("load knowledge base %d: %w", doc.KnowledgeBaseID, err)
	}
	chunker := knowledge.NewChunker(kb.ChunkSize, kb.ChunkOverlap)

	pieces := chunker.Split(doc.Content)
	if len(pieces) == 0 {
		return fmt.Errorf("document %d produced no chunks", doc.DocumentID)
	}

	if err := p.repo.DeleteChunksByDoc(ctx, doc.DocumentID); err != nil {
		return fmt.Errorf("clear previous chunks: %w", err)
	}
	if err := p.fulltext.RemoveDocument(ctx, doc.KnowledgeBaseID, doc.DocumentID); err != nil {
		logger.Warn("ingest: removing stale fulltext entries failed, continuing",
			zap.Uint("document_id", doc.DocumentID), zap.Error(err))
	}

	embeddings, err := p.embedAll(ctx, pieces)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	rows := make([]models.KnowledgeChunk, len(pieces))
	for i, piece := range pieces {
		rows[i] = models.KnowledgeChunk{
			DocumentID:      doc.DocumentID,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			ChunkIndex:      piece.Index,
			Content:         piece.Text,
		}
	}

	rows, err = p.repo.InsertChunks(ctx, rows)
	if err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}

	for i, row := range rows {
		vc := knowledge.VectorChunk{
			ChunkID:         row.ChunkID,
			DocumentID:      row.DocumentID,
			KnowledgeBaseID: row.KnowledgeBaseID,
			Text:            row.Content,
			Embedding:       embeddings[i],
		}
		vectorID, err := p.upsertVector(ctx, vc)
		if err != nil {
			return fmt.Errorf("upsert vector for chunk %d: %w", row.ChunkID, err)
		}
		if vectorID != "" {
			if err := p.repo.UpdateChunkVectorID(ctx, row.ChunkID, vectorID); err != nil {
				return fmt.Errorf("record vector id for chunk %d: %w", row.ChunkID, err)
			}
		}

		fc := knowledge.FulltextChunk{
			ChunkID:         row.ChunkID,
			DocumentID:      row.DocumentID,
			KnowledgeBaseID: row.KnowledgeBaseID,
			Content:         row.Content,
			ChunkIndex:      row.ChunkIndex,
			FileName:        doc.Filename,
		}
		if err := p.fulltext.IndexChunk(ctx, fc); err != nil {
			return fmt.Errorf("index chunk %d into fulltext: %w", row.ChunkID, err)
		}
	}

	chunkCount := len(rows)
	if err := p.repo.UpdateDocumentStatus(ctx, doc.DocumentID, models.DocumentStatusProcessing, &chunkCount, nil); err != nil {
		return fmt.Errorf("record chunk count: %w", err)
	}
	return nil
}

func (p *Pipeline) embedAll(ctx context.Context, pieces []knowledge.Chunk) ([][]float32, error) {
	if p.embedder == nil || !p.embedder.Ready() {
		return nil, fmt.Errorf("embedder not ready")
	}
	out := make([][]float32, len(pieces))
	err := p.breakers.Call("embedding", func() error {
		return resilience.Retry(ctx, p.retryOpts, func() error {
			for i, piece := range pieces {
				emb, err := p.embedder.Embed(ctx, piece.Text)
				if err != nil {
					return err
				}
				out[i] = emb
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) upsertVector(ctx context.Context, vc knowledge.VectorChunk) (string, error) {
	if p.vectors == nil || !p.vectors.Ready() {
		return "", fmt.Errorf("vector store not ready")
	}
	var vectorID string
	err := p.breakers.Call("vector_store", func() error {
		return resilience.Retry(ctx, p.retryOpts, func() error {
			id, err := p.vectors.UpsertChunk(ctx, vc)
			if err != nil {
				return err
			}
			vectorID = id
			return nil
		})
	})
	return vectorID, err
}

// Remove deletes a document's chunks from every store - vector, fulltext,
// and the database - and is safe to call whether or not ingestion ever
// completed for it.
func (p *Pipeline) Remove(ctx context.Context, knowledgeBaseID, documentID uint) error {
	if err := p.vectors.DeleteDocument(ctx, knowledgeBaseID, documentID); err != nil {
		logger.Warn("ingest: removing document from vector store failed", zap.Uint("document_id", documentID), zap.Error(err))
	}
	if err := p.fulltext.RemoveDocument(ctx, knowledgeBaseID, documentID); err != nil {
		logger.Warn("ingest: removing document from fulltext index failed", zap.Uint("document_id", documentID), zap.Error(err))
	}
	if err := p.repo.DeleteChunksByDoc(ctx, documentID); err != nil {
		return fmt.Errorf("remove: delete chunks for document %d: %w", documentID, err)
	}
	return nil
}
