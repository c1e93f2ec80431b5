package knowledge

import (
	"context"
	"fmt"
)

// DimensionMismatchError is returned when an embedding's length doesn't
// match the vector store's configured collection dimension, instead of
// the store silently padding or truncating the vector. A mismatch means
// embedding_model is misconfigured relative to the collection it's being
// written into, which is a fatal config error, not a recoverable one -
// coercing the vector would write garbage instead of surfacing the fault.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: collection expects %d, got %d", e.Expected, e.Actual)
}

// VectorChunk 存储向量信息
type VectorChunk struct {
	ChunkID         uint
	DocumentID      uint
	KnowledgeBaseID uint
	Text            string
	Embedding       []float32
}

// VectorSearchRequest 向量检索请求
type VectorSearchRequest struct {
	KnowledgeBaseID uint
	QueryEmbedding  []float32
	Limit           int
	CandidateLimit  int
	Threshold       float64 // 相似度阈值；Milvus 与数据库两种实现都不读取此字段，结果不按它过滤
}

// VectorStore 向量存储抽象
type VectorStore interface {
	UpsertChunk(ctx context.Context, chunk VectorChunk) (string, error)
	DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error
	// DeleteByVectorIDs removes specific vectors by the backend-canonical id
	// returned from UpsertChunk, used by the reconciliation pass (§4.2/§6).
	DeleteByVectorIDs(ctx context.Context, knowledgeBaseID uint, vectorIDs []string) error
	Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error)
	Ready() bool
}
