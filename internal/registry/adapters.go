package registry

import (
	"context"
	"fmt"

	"github.com/aihub/knowledge-retrieval/internal/bm25"
	"github.com/aihub/knowledge-retrieval/internal/models"
	"gorm.io/gorm"
)

// kbValidator implements retrieval.KBValidator directly against
// knowledge_bases. The engine's precondition check has no userID in scope
// and needs a plain bool, not a row, so it gets its own narrow GORM-backed
// reader rather than going through CoreRepository.GetKB.
type kbValidator struct {
	db *gorm.DB
}

func newKBValidator(db *gorm.DB) *kbValidator {
	return &kbValidator{db: db}
}

func (v *kbValidator) Active(ctx context.Context, kbID uint) (bool, error) {
	var kb models.KnowledgeBase
	err := v.db.WithContext(ctx).
		Select("active").
		Where("knowledge_base_id = ?", kbID).
		First(&kb).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kb validator: query kb %d: %w", kbID, err)
	}
	return kb.Active, nil
}

// chunkSource implements bm25.ChunkSource. The BM25 manager needs every
// active chunk across a whole knowledge base, joined against document
// status, to rebuild an index from scratch - a shape CoreRepository.
// ListChunks doesn't cover - so it gets its own narrow GORM-backed reader.
type chunkSource struct {
	db *gorm.DB
}

func newChunkSource(db *gorm.DB) *chunkSource {
	return &chunkSource{db: db}
}

func (s *chunkSource) ActiveChunks(ctx context.Context, kbID uint) ([]bm25.Chunk, error) {
	var rows []models.KnowledgeChunk
	err := s.db.WithContext(ctx).
		Select("chunk_id", "document_id", "content").
		Joins("JOIN knowledge_documents ON knowledge_documents.document_id = knowledge_chunks.document_id").
		Where("knowledge_chunks.knowledge_base_id = ? AND knowledge_documents.status = ?", kbID, "completed").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("chunk source: list active chunks for kb %d: %w", kbID, err)
	}

	chunks := make([]bm25.Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = bm25.Chunk{ChunkID: r.ChunkID, DocumentID: r.DocumentID, Content: r.Content}
	}
	return chunks, nil
}

// activeKBIDs lists every active knowledge base, for RebuildAll at startup.
func activeKBIDs(ctx context.Context, db *gorm.DB) ([]uint, error) {
	var ids []uint
	err := db.WithContext(ctx).
		Model(&models.KnowledgeBase{}).
		Where("active = ?", true).
		Pluck("knowledge_base_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list active kb ids: %w", err)
	}
	return ids, nil
}
