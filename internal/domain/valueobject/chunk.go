package valueobject

import "fmt"

// Chunk 文档分块
// 不落关系库, 只存在于向量库与全文索引; chunk_id 在两边保持一致
type Chunk struct {
	ChunkID     string `json:"chunk_id"`
	DocumentID  uint   `json:"document_id"`
	KnowledgeID uint   `json:"knowledge_id"`
	ChunkIndex  int    `json:"chunk_index"`
	Content     string `json:"content"`
	FileName    string `json:"file_name"`
	Heading     string `json:"heading,omitempty"`
	// 向量在向量化阶段挂上, 不参与消息序列化
	Vector []float32 `json:"-"`
}

// NewChunkID 生成分块ID: "{document_id}_{index}"
func NewChunkID(documentID uint, index int) string {
	return fmt.Sprintf("%d_%d", documentID, index)
}

// 检索命中来源; 重排后在原值上追加 "+rerank"
const (
	SourceVector  = "vector"
	SourceKeyword = "keyword"
	SourceHybrid  = "hybrid"
)

// RetrievedChunk 一条检索命中
// Score 统一归一到 [0,1]: 向量按 (d+1)/2, BM25 按 s/(s+1), 融合后为 RRF 分
type RetrievedChunk struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  uint    `json:"document_id"`
	KnowledgeID uint    `json:"knowledge_id,omitempty"`
	ChunkIndex  int     `json:"chunk_index"`
	Content     string  `json:"content"`
	FileName    string  `json:"file_name"`
	Score       float64 `json:"score"`
	Source      string  `json:"source,omitempty"`
}
