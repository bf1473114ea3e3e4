package repository

import (
	"context"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
)

// UserRepository 用户仓储接口（遵循依赖倒置原则）
// 定义在领域层，实现在基础设施层
type UserRepository interface {
	// Save 保存用户（创建或更新）
	Save(ctx context.Context, user *entity.User) error

	// FindByID 根据ID查找用户
	FindByID(ctx context.Context, id uint) (*entity.User, error)

	// FindByUsername 根据用户名查找用户
	FindByUsername(ctx context.Context, username string) (*entity.User, error)

	// FindByEmail 根据邮箱查找用户
	FindByEmail(ctx context.Context, email string) (*entity.User, error)

	// FindAll 分页查找所有用户
	FindAll(ctx context.Context, limit, offset int) ([]*entity.User, error)

	// Count 统计用户总数
	Count(ctx context.Context) (int64, error)

	// Delete 删除用户
	Delete(ctx context.Context, id uint) error
}
