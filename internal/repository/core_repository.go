package repository

import (
	"context"
	"fmt"

	"github.com/aihub/knowledge-retrieval/internal/models"
	"gorm.io/gorm"
)

// CoreRepository is the repository contract the retrieval core itself
// consumes (§6 "Repository contract"). It has no user in scope and needs
// strongly-typed results to feed the ingestion pipeline and its
// reconciliation pass; the registry's BM25 chunk source and KB validator
// query GORM directly.
type CoreRepository interface {
	ListActiveKBs(ctx context.Context) ([]models.KnowledgeBase, error)
	GetKB(ctx context.Context, kbID uint) (*models.KnowledgeBase, error)
	ListChunks(ctx context.Context, kbID uint, offset, limit int) ([]models.KnowledgeChunk, error)
	GetDocument(ctx context.Context, docID uint) (*models.KnowledgeDocument, error)
	UpdateDocumentStatus(ctx context.Context, docID uint, status string, chunkCount, tokenCount *int) error
	// InsertChunks persists chunks transactionally and returns the same
	// slice with each element's ChunkID populated by the database.
	InsertChunks(ctx context.Context, chunks []models.KnowledgeChunk) ([]models.KnowledgeChunk, error)
	DeleteChunksByDoc(ctx context.Context, docID uint) error
	// UpdateChunkVectorID records the backend-assigned vector id a chunk
	// received from VectorStore.UpsertChunk, so later deletes can target
	// the vector store's own key instead of the chunk's row id.
	UpdateChunkVectorID(ctx context.Context, chunkID uint, vectorID string) error
}

type coreRepository struct {
	db *gorm.DB
}

func NewCoreRepository(db *gorm.DB) CoreRepository {
	return &coreRepository{db: db}
}

func (r *coreRepository) ListActiveKBs(ctx context.Context) ([]models.KnowledgeBase, error) {
	var kbs []models.KnowledgeBase
	if err := r.db.WithContext(ctx).Where("active = ?", true).Find(&kbs).Error; err != nil {
		return nil, fmt.Errorf("list active kbs: %w", err)
	}
	return kbs, nil
}

func (r *coreRepository) GetKB(ctx context.Context, kbID uint) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	if err := r.db.WithContext(ctx).Where("knowledge_base_id = ?", kbID).First(&kb).Error; err != nil {
		return nil, fmt.Errorf("get kb %d: %w", kbID, err)
	}
	return &kb, nil
}

func (r *coreRepository) ListChunks(ctx context.Context, kbID uint, offset, limit int) ([]models.KnowledgeChunk, error) {
	if limit <= 0 {
		limit = 100
	}
	var chunks []models.KnowledgeChunk
	err := r.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("document_id, chunk_index").
		Offset(offset).Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks for kb %d: %w", kbID, err)
	}
	return chunks, nil
}

func (r *coreRepository) GetDocument(ctx context.Context, docID uint) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	if err := r.db.WithContext(ctx).Where("document_id = ?", docID).First(&doc).Error; err != nil {
		return nil, fmt.Errorf("get document %d: %w", docID, err)
	}
	return &doc, nil
}

func (r *coreRepository) UpdateDocumentStatus(ctx context.Context, docID uint, status string, chunkCount, tokenCount *int) error {
	updates := map[string]interface{}{"status": status}
	if chunkCount != nil {
		updates["chunk_count"] = *chunkCount
	}
	if tokenCount != nil {
		updates["token_count"] = *tokenCount
	}
	err := r.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("document_id = ?", docID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update document %d status to %s: %w", docID, status, err)
	}
	return nil
}

// InsertChunks persists chunks inside a single transaction: either every
// chunk is written or none are, so a failure partway through never leaves
// the repository holding a partial chunk set for a document (§4.2's
// commit-or-rollback-at-chunk-set-granularity requirement).
func (r *coreRepository) InsertChunks(ctx context.Context, chunks []models.KnowledgeChunk) ([]models.KnowledgeChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&chunks).Error
	})
	if err != nil {
		return nil, fmt.Errorf("insert %d chunks: %w", len(chunks), err)
	}
	return chunks, nil
}

func (r *coreRepository) DeleteChunksByDoc(ctx context.Context, docID uint) error {
	err := r.db.WithContext(ctx).Where("document_id = ?", docID).Delete(&models.KnowledgeChunk{}).Error
	if err != nil {
		return fmt.Errorf("delete chunks for document %d: %w", docID, err)
	}
	return nil
}

func (r *coreRepository) UpdateChunkVectorID(ctx context.Context, chunkID uint, vectorID string) error {
	err := r.db.WithContext(ctx).Model(&models.KnowledgeChunk{}).
		Where("chunk_id = ?", chunkID).
		Update("vector_id", vectorID).Error
	if err != nil {
		return fmt.Errorf("update vector id for chunk %d: %w", chunkID, err)
	}
	return nil
}
