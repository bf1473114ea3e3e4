package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/persistence/models"
	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// GormUserRepository GORM 实现的用户仓储
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建 GORM 用户仓储
func NewGormUserRepository(db *gorm.DB) repository.UserRepository {
	return &GormUserRepository{db: db}
}

// Save 保存用户
func (r *GormUserRepository) Save(ctx context.Context, user *entity.User) error {
	model := userToModel(user)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save user: " + err.Error())
	}
	user.SetID(model.ID)
	return nil
}

// FindByID 根据ID查找用户
func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*entity.User, error) {
	var model models.UserModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("用户不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find user: " + err.Error())
	}
	return userToEntity(&model), nil
}

// FindByUsername 根据用户名查找用户
func (r *GormUserRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	var model models.UserModel
	if err := r.db.WithContext(ctx).First(&model, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("用户不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find user: " + err.Error())
	}
	return userToEntity(&model), nil
}

// FindByEmail 根据邮箱查找用户
func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	var model models.UserModel
	if err := r.db.WithContext(ctx).First(&model, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("用户不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find user: " + err.Error())
	}
	return userToEntity(&model), nil
}

// FindAll 分页查找所有用户
func (r *GormUserRepository) FindAll(ctx context.Context, limit, offset int) ([]*entity.User, error) {
	var modelList []models.UserModel
	if err := r.db.WithContext(ctx).
		Order("id").
		Limit(limit).Offset(offset).
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find users: " + err.Error())
	}

	users := make([]*entity.User, 0, len(modelList))
	for i := range modelList {
		users = append(users, userToEntity(&modelList[i]))
	}
	return users, nil
}

// Count 统计用户总数
func (r *GormUserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.UserModel{}).Count(&count).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to count users: " + err.Error())
	}
	return count, nil
}

// Delete 删除用户
func (r *GormUserRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.UserModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete user: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("用户不存在")
	}
	return nil
}

// 转换方法

func userToModel(user *entity.User) *models.UserModel {
	return &models.UserModel{
		ID:                user.ID(),
		Username:          user.Username(),
		Email:             user.Email(),
		PasswordHash:      user.PasswordHash(),
		Role:              user.Role(),
		IsActive:          user.IsActive(),
		PasswordChangedAt: user.PasswordChangedAt(),
		CreatedAt:         user.CreatedAt(),
		UpdatedAt:         user.UpdatedAt(),
	}
}

func userToEntity(model *models.UserModel) *entity.User {
	return entity.ReconstructUser(
		model.ID,
		model.Username,
		model.Email,
		model.PasswordHash,
		model.Role,
		model.IsActive,
		model.PasswordChangedAt,
		model.CreatedAt,
		model.UpdatedAt,
	)
}
