package entity

import (
	"fmt"
	"time"
)

// Knowledge 状态
const (
	KnowledgeStatusActive   = 1
	KnowledgeStatusDisabled = 0
)

// 分块参数边界
const (
	MinChunkSize    = 100
	MaxChunkSize    = 2000
	MaxChunkOverlap = 500
)

// Knowledge 知识库聚合根
// embed_llm_id 与 vector_collection_name 创建后不可变:
// 换向量化模型会使已入库向量全部失效, collection 名是向量库里的既成事实
type Knowledge struct {
	id                   uint
	userID               uint
	name                 string
	description          string
	embedLLMID           uint
	vectorCollectionName string
	chunkSize            int
	chunkOverlap         int
	documentCount        int64
	totalChunks          int64
	status               int
	createdAt            time.Time
	updatedAt            time.Time
}

// NewKnowledge 创建知识库（工厂方法）
// collection 命名含毫秒时间戳, 同一用户重建同名知识库不会撞名
func NewKnowledge(userID uint, name, description string, embedLLMID uint, chunkSize, chunkOverlap int, now time.Time) (*Knowledge, error) {
	if name == "" {
		return nil, ErrInvalidKnowledgeName
	}
	if chunkSize == 0 {
		chunkSize = 500
	}
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize ||
		chunkOverlap < 0 || chunkOverlap > MaxChunkOverlap || chunkOverlap >= chunkSize {
		return nil, ErrInvalidChunkParams
	}

	return &Knowledge{
		userID:               userID,
		name:                 name,
		description:          description,
		embedLLMID:           embedLLMID,
		vectorCollectionName: fmt.Sprintf("kb_%d_%d", userID, now.UnixMilli()),
		chunkSize:            chunkSize,
		chunkOverlap:         chunkOverlap,
		status:               KnowledgeStatusActive,
		createdAt:            now,
		updatedAt:            now,
	}, nil
}

// ReconstructKnowledge 重建知识库（用于从持久化层恢复）
func ReconstructKnowledge(
	id, userID uint,
	name, description string,
	embedLLMID uint,
	vectorCollectionName string,
	chunkSize, chunkOverlap int,
	documentCount, totalChunks int64,
	status int,
	createdAt, updatedAt time.Time,
) *Knowledge {
	return &Knowledge{
		id:                   id,
		userID:               userID,
		name:                 name,
		description:          description,
		embedLLMID:           embedLLMID,
		vectorCollectionName: vectorCollectionName,
		chunkSize:            chunkSize,
		chunkOverlap:         chunkOverlap,
		documentCount:        documentCount,
		totalChunks:          totalChunks,
		status:               status,
		createdAt:            createdAt,
		updatedAt:            updatedAt,
	}
}

// ID 返回ID
func (k *Knowledge) ID() uint { return k.id }

// SetID 回填持久化生成的主键
func (k *Knowledge) SetID(id uint) { k.id = id }

// UserID 返回所属用户ID
func (k *Knowledge) UserID() uint { return k.userID }

// Name 返回名称
func (k *Knowledge) Name() string { return k.name }

// Description 返回描述
func (k *Knowledge) Description() string { return k.description }

// EmbedLLMID 返回绑定的向量化模型ID(不可变)
func (k *Knowledge) EmbedLLMID() uint { return k.embedLLMID }

// VectorCollectionName 返回向量 collection 名(不可变)
func (k *Knowledge) VectorCollectionName() string { return k.vectorCollectionName }

// ChunkSize 返回分块大小
func (k *Knowledge) ChunkSize() int { return k.chunkSize }

// ChunkOverlap 返回分块重叠
func (k *Knowledge) ChunkOverlap() int { return k.chunkOverlap }

// DocumentCount 返回已完成文档数
func (k *Knowledge) DocumentCount() int64 { return k.documentCount }

// TotalChunks 返回分块总数
func (k *Knowledge) TotalChunks() int64 { return k.totalChunks }

// Status 返回状态
func (k *Knowledge) Status() int { return k.status }

// CreatedAt 返回创建时间
func (k *Knowledge) CreatedAt() time.Time { return k.createdAt }

// UpdatedAt 返回更新时间
func (k *Knowledge) UpdatedAt() time.Time { return k.updatedAt }

// IsActive 判断是否启用
func (k *Knowledge) IsActive() bool { return k.status == KnowledgeStatusActive }

// OwnedBy 判断归属
func (k *Knowledge) OwnedBy(userID uint) bool { return k.userID == userID }

// Rename 更新名称与描述, 空名保持原样
func (k *Knowledge) Rename(name, description string) {
	if name != "" {
		k.name = name
	}
	k.description = description
	k.updatedAt = time.Now()
}

// TuneChunking 调整分块参数, 只影响之后上传的文档
func (k *Knowledge) TuneChunking(chunkSize, chunkOverlap int) error {
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize ||
		chunkOverlap < 0 || chunkOverlap > MaxChunkOverlap || chunkOverlap >= chunkSize {
		return ErrInvalidChunkParams
	}
	k.chunkSize = chunkSize
	k.chunkOverlap = chunkOverlap
	k.updatedAt = time.Now()
	return nil
}

// SetCounters 覆盖计数器
// 计数一律由聚合查询重算后回写, 不做增量加减, 避免补偿删除后漂移
func (k *Knowledge) SetCounters(documentCount, totalChunks int64) {
	k.documentCount = documentCount
	k.totalChunks = totalChunks
	k.updatedAt = time.Now()
}

// Disable 停用, 停用的知识库不参与检索
func (k *Knowledge) Disable() {
	k.status = KnowledgeStatusDisabled
	k.updatedAt = time.Now()
}

// Enable 启用
func (k *Knowledge) Enable() {
	k.status = KnowledgeStatusActive
	k.updatedAt = time.Now()
}
