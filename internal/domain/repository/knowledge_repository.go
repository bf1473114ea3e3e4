package repository

import (
	"context"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
)

// KnowledgeRepository 知识库仓储接口
type KnowledgeRepository interface {
	// Save 保存知识库（创建或更新）
	Save(ctx context.Context, kb *entity.Knowledge) error

	// FindByID 根据ID查找知识库
	FindByID(ctx context.Context, id uint) (*entity.Knowledge, error)

	// FindByUserID 分页查找用户的知识库
	FindByUserID(ctx context.Context, userID uint, limit, offset int) ([]*entity.Knowledge, error)

	// FindByIDs 批量查找知识库
	FindByIDs(ctx context.Context, ids []uint) ([]*entity.Knowledge, error)

	// CountByUserID 统计用户的知识库数量
	CountByUserID(ctx context.Context, userID uint) (int64, error)

	// Delete 删除知识库
	Delete(ctx context.Context, id uint) error
}

// DocumentRepository 文档仓储接口
type DocumentRepository interface {
	// Save 保存文档（创建或更新）
	Save(ctx context.Context, doc *entity.Document) error

	// FindByID 根据ID查找文档
	FindByID(ctx context.Context, id uint) (*entity.Document, error)

	// FindByKnowledgeID 分页查找知识库下的文档, status 为空表示不过滤
	FindByKnowledgeID(ctx context.Context, knowledgeID uint, status string, limit, offset int) ([]*entity.Document, error)

	// CountByKnowledgeID 统计知识库下的文档数, status 为空表示不过滤
	CountByKnowledgeID(ctx context.Context, knowledgeID uint, status string) (int64, error)

	// SumChunksByKnowledgeID 聚合知识库下已完成文档的分块总数
	SumChunksByKnowledgeID(ctx context.Context, knowledgeID uint) (int64, error)

	// UpdateStatus 更新文档状态(带失败原因)
	UpdateStatus(ctx context.Context, id uint, status, errorMsg string) error

	// Delete 删除文档
	Delete(ctx context.Context, id uint) error
}
