package repository

import (
	"context"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
)

// RobotRepository 机器人仓储接口
// 知识库关联经由 robot_knowledge 关系表维护, 随聚合一并读写
type RobotRepository interface {
	// Save 保存机器人（创建或更新, 含知识库关联的全量重建）
	Save(ctx context.Context, robot *entity.Robot) error

	// FindByID 根据ID查找机器人(含知识库关联)
	FindByID(ctx context.Context, id uint) (*entity.Robot, error)

	// FindByUserID 分页查找用户的机器人
	FindByUserID(ctx context.Context, userID uint, limit, offset int) ([]*entity.Robot, error)

	// CountByUserID 统计用户的机器人数量
	CountByUserID(ctx context.Context, userID uint) (int64, error)

	// CountByKnowledgeID 统计引用某知识库的机器人数量
	CountByKnowledgeID(ctx context.Context, knowledgeID uint) (int64, error)

	// Delete 删除机器人(级联删除关联)
	Delete(ctx context.Context, id uint) error
}
