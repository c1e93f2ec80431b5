package models

import "time"

// Document status values. Transitions are enforced by ingestion.Lifecycle,
// not by the database layer.
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
	DocumentStatusCancelled  = "cancelled"
)

// KnowledgeBase is the tenant-owned container of documents. EmbeddingModel is
// immutable once the first document reaches DocumentStatusCompleted.
type KnowledgeBase struct {
	KnowledgeBaseID uint      `gorm:"primaryKey;column:knowledge_base_id" json:"knowledge_base_id"`
	Name            string    `gorm:"size:200;not null" json:"name"`
	Description     string    `gorm:"type:text" json:"description"`
	OwnerID         uint      `gorm:"column:owner_id;not null;index" json:"owner_id"`
	Owner           User      `gorm:"foreignKey:OwnerID"`
	EmbeddingModel  string    `gorm:"column:embedding_model;size:100;not null" json:"embedding_model"`
	ChunkSize       int       `gorm:"column:chunk_size;default:800" json:"chunk_size"`
	ChunkOverlap    int       `gorm:"column:chunk_overlap;default:120" json:"chunk_overlap"`
	Active          bool      `gorm:"column:active;default:true" json:"active"`
	CreateTime      time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime      time.Time `gorm:"column:update_time" json:"update_time"`

	Documents []KnowledgeDocument `gorm:"foreignKey:KnowledgeBaseID"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// CollectionName returns the vector-store collection name for this KB per the
// External Interfaces contract: kb_<kb_id_sanitized>, '-' replaced with '_'.
func (kb KnowledgeBase) CollectionName() string {
	return SanitizeCollectionName(kb.KnowledgeBaseID)
}

// SanitizeCollectionName applies the kb_<id> naming rule to a numeric KB id.
// Kept as a free function too so callers that only have an id (not a loaded
// KnowledgeBase row) can derive the same name.
func SanitizeCollectionName(kbID uint) string {
	return "kb_" + itoa(kbID)
}

func itoa(v uint) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// KnowledgeDocument is a single ingested source document belonging to a KB.
type KnowledgeDocument struct {
	DocumentID      uint          `gorm:"primaryKey;column:document_id" json:"document_id"`
	KnowledgeBaseID uint          `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	KnowledgeBase   KnowledgeBase `gorm:"foreignKey:KnowledgeBaseID"`
	FolderID        *uint         `gorm:"column:folder_id" json:"folder_id"`
	Filename        string        `gorm:"size:255;not null" json:"filename"`
	Content         string        `gorm:"type:text;not null" json:"content"`
	ContentHash     string        `gorm:"column:content_hash;size:64;index" json:"content_hash"`
	Status          string        `gorm:"size:20;default:pending;index" json:"status"`
	ChunkCount      int           `gorm:"column:chunk_count;default:0" json:"chunk_count"`
	TokenCount      int           `gorm:"column:token_count;default:0" json:"token_count"`
	Version         int           `gorm:"column:version;default:0" json:"version"`
	LastProcessedAt time.Time     `gorm:"column:last_processed_at" json:"last_processed_at"`
	CreateTime      time.Time     `gorm:"column:create_time" json:"create_time"`
	UpdateTime      time.Time     `gorm:"column:update_time" json:"update_time"`

	Chunks []KnowledgeChunk `gorm:"foreignKey:DocumentID"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// KnowledgeChunk is the retrieval unit: a contiguous span of a document,
// indexed once into both the vector store and the BM25 index.
type KnowledgeChunk struct {
	ChunkID         uint              `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	DocumentID      uint              `gorm:"column:document_id;not null;index" json:"document_id"`
	Document        KnowledgeDocument `gorm:"foreignKey:DocumentID"`
	KnowledgeBaseID uint              `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	ChunkIndex      int               `gorm:"not null;index" json:"chunk_index"`
	Content         string            `gorm:"type:text;not null" json:"content"`
	TokenCount      int               `gorm:"column:token_count;default:0" json:"token_count"`
	Page            *int              `gorm:"column:page" json:"page"`
	SectionTitle    string            `gorm:"column:section_title;size:255" json:"section_title"`
	// VectorID is the identifier the vector-store backend actually assigned on
	// upsert. Kept distinct from ChunkID so deletes target the backend's own key.
	VectorID    string `gorm:"column:vector_id;size:255;index" json:"vector_id"`
	PrevChunkID *uint  `gorm:"column:prev_chunk_id" json:"prev_chunk_id"`
	NextChunkID *uint  `gorm:"column:next_chunk_id" json:"next_chunk_id"`

	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

// ConversationMessage is the durable record of a conversation turn. Nothing
// in the retrieval core writes or reads this table; the Query Rewriter's
// bounded session ring (see internal/rewrite) is a separate store that the
// rewriter fills with each query it sees.
type ConversationMessage struct {
	ID             uint      `gorm:"primaryKey;column:id" json:"id"`
	ConversationID string    `gorm:"column:conversation_id;size:255;not null;index" json:"conversation_id"`
	Role           string    `gorm:"column:role;size:20;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreateTime     time.Time `gorm:"column:create_time;not null;index" json:"create_time"`
}

func (ConversationMessage) TableName() string {
	return "conversation_messages"
}
