package repository

import (
	"context"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// LLMRepository 模型配置仓储接口
type LLMRepository interface {
	// Save 保存模型配置（创建或更新）
	Save(ctx context.Context, llm *entity.LLM) error

	// FindByID 根据ID查找模型配置
	FindByID(ctx context.Context, id uint) (*entity.LLM, error)

	// FindByName 根据名称查找模型配置
	FindByName(ctx context.Context, name string) (*entity.LLM, error)

	// FindAll 查找所有模型配置
	FindAll(ctx context.Context) ([]*entity.LLM, error)

	// FindByModelType 按用途类型查找启用的模型配置
	FindByModelType(ctx context.Context, modelType valueobject.ModelType) ([]*entity.LLM, error)

	// Delete 删除模型配置
	Delete(ctx context.Context, id uint) error
}

// APIKeyRepository 提供商凭据仓储接口
type APIKeyRepository interface {
	// Save 保存凭据（创建或更新）
	Save(ctx context.Context, key *entity.APIKey) error

	// FindByID 根据ID查找凭据
	FindByID(ctx context.Context, id uint) (*entity.APIKey, error)

	// FindByLLMID 查找某模型配置的全部凭据
	FindByLLMID(ctx context.Context, llmID uint) ([]*entity.APIKey, error)

	// FindActiveByLLMID 查找某模型配置的首个可用凭据
	FindActiveByLLMID(ctx context.Context, llmID uint) (*entity.APIKey, error)

	// FindAll 查找所有凭据
	FindAll(ctx context.Context) ([]*entity.APIKey, error)

	// Delete 删除凭据
	Delete(ctx context.Context, id uint) error
}
