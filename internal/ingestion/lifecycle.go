// Package ingestion owns the document lifecycle state machine and the
// chunk-commit pipeline that feeds the vector store and BM25 index from a
// knowledge base's documents (§3 "Document lifecycle", §4.2 "commit").
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/aihub/knowledge-retrieval/internal/logger"
	"github.com/aihub/knowledge-retrieval/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when a requested status change is not
// one of the finite edges the lifecycle allows, instead of silently
// no-opping (§3 "illegal transitions return a typed error").
type ErrInvalidTransition struct {
	From, To string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid document transition from %q to %q", e.From, e.To)
}

var validTransitions = map[string]map[string]bool{
	models.DocumentStatusPending: {
		models.DocumentStatusProcessing: true,
	},
	models.DocumentStatusProcessing: {
		models.DocumentStatusCompleted: true,
		models.DocumentStatusFailed:    true,
		models.DocumentStatusCancelled: true,
	},
	models.DocumentStatusFailed: {
		models.DocumentStatusPending: true,
	},
}

// Lifecycle enforces the document status state machine against the
// database directly - it has no userID in scope (ingestion is triggered
// by the pipeline, not a request on behalf of an owner), and needs to
// update a status column in place rather than fetch a typed document, so
// it talks to GORM rather than going through CoreRepository.
type Lifecycle struct {
	db *gorm.DB
}

func NewLifecycle(db *gorm.DB) *Lifecycle {
	return &Lifecycle{db: db}
}

// CanTransition reports whether from->to is one of the allowed edges.
func (l *Lifecycle) CanTransition(from, to string) bool {
	return validTransitions[from][to]
}

// Transition moves documentID to toStatus, rejecting the change with
// ErrInvalidTransition if it isn't a legal edge from the document's
// current status.
func (l *Lifecycle) Transition(ctx context.Context, documentID uint, toStatus string) error {
	var doc models.KnowledgeDocument
	if err := l.db.WithContext(ctx).Select("status").Where("document_id = ?", documentID).First(&doc).Error; err != nil {
		return fmt.Errorf("lifecycle: load document %d: %w", documentID, err)
	}

	if !l.CanTransition(doc.Status, toStatus) {
		return &ErrInvalidTransition{From: doc.Status, To: toStatus}
	}

	update := map[string]interface{}{
		"status":      toStatus,
		"update_time": time.Now(),
	}
	if toStatus == models.DocumentStatusCompleted {
		update["last_processed_at"] = time.Now()
	}

	err := l.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("document_id = ?", documentID).
		Updates(update).Error
	if err != nil {
		return fmt.Errorf("lifecycle: update document %d status: %w", documentID, err)
	}

	logger.Info("document status transitioned",
		zap.Uint("document_id", documentID),
		zap.String("from", doc.Status),
		zap.String("to", toStatus))
	return nil
}
