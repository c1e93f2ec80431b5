package knowledge

import (
	"context"
	"time"
)

// FulltextChunk 提供索引用的分块结构
type FulltextChunk struct {
	ChunkID         uint
	DocumentID      uint
	KnowledgeBaseID uint
	Content         string
	ChunkIndex      int
	FileName        string
	FileType        string
	Metadata        map[string]interface{}
	CreatedAt       time.Time
}

// FulltextSearchRequest 全文搜索请求
type FulltextSearchRequest struct {
	KnowledgeBaseID uint
	Query           string
	Limit           int
	Filters         map[string]interface{}
}

// SearchMatch 搜索结果
type SearchMatch struct {
	ChunkID         uint
	DocumentID      uint
	KnowledgeBaseID uint
	// ChunkIndex is the chunk's position within its document, used for
	// cross-KB dedup when the same content is indexed into more than one
	// knowledge base (§4.1 "identical (doc_id, chunk_index)"). Zero means
	// unknown - callers fall back to deduping by ChunkID alone.
	ChunkIndex int
	Content    string
	Score      float64
	Highlight  string
	Metadata   map[string]interface{}
}

// FulltextIndexer 全文索引接口
type FulltextIndexer interface {
	IndexChunk(ctx context.Context, chunk FulltextChunk) error
	RemoveDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error
	Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error)
	Ready() bool
}
