package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/persistence/models"
	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// GormLLMRepository GORM 实现的模型配置仓储
type GormLLMRepository struct {
	db *gorm.DB
}

// NewGormLLMRepository 创建 GORM 模型配置仓储
func NewGormLLMRepository(db *gorm.DB) repository.LLMRepository {
	return &GormLLMRepository{db: db}
}

// Save 保存模型配置
func (r *GormLLMRepository) Save(ctx context.Context, llm *entity.LLM) error {
	model := llmToModel(llm)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save llm: " + err.Error())
	}
	llm.SetID(model.ID)
	return nil
}

// FindByID 根据ID查找模型配置
func (r *GormLLMRepository) FindByID(ctx context.Context, id uint) (*entity.LLM, error) {
	var model models.LLMModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("模型配置不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find llm: " + err.Error())
	}
	return llmToEntity(&model), nil
}

// FindByName 根据名称查找模型配置
func (r *GormLLMRepository) FindByName(ctx context.Context, name string) (*entity.LLM, error) {
	var model models.LLMModel
	if err := r.db.WithContext(ctx).First(&model, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("模型配置不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find llm: " + err.Error())
	}
	return llmToEntity(&model), nil
}

// FindAll 查找所有模型配置
func (r *GormLLMRepository) FindAll(ctx context.Context) ([]*entity.LLM, error) {
	var modelList []models.LLMModel
	if err := r.db.WithContext(ctx).Order("id").Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find llms: " + err.Error())
	}
	out := make([]*entity.LLM, 0, len(modelList))
	for i := range modelList {
		out = append(out, llmToEntity(&modelList[i]))
	}
	return out, nil
}

// FindByModelType 按用途类型查找启用的模型配置
func (r *GormLLMRepository) FindByModelType(ctx context.Context, modelType valueobject.ModelType) ([]*entity.LLM, error) {
	var modelList []models.LLMModel
	if err := r.db.WithContext(ctx).
		Where("model_type = ? AND status = ?", modelType.String(), entity.LLMStatusActive).
		Order("id").
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find llms: " + err.Error())
	}
	out := make([]*entity.LLM, 0, len(modelList))
	for i := range modelList {
		out = append(out, llmToEntity(&modelList[i]))
	}
	return out, nil
}

// Delete 删除模型配置
func (r *GormLLMRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.LLMModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete llm: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("模型配置不存在")
	}
	return nil
}

// GormAPIKeyRepository GORM 实现的凭据仓储
type GormAPIKeyRepository struct {
	db *gorm.DB
}

// NewGormAPIKeyRepository 创建 GORM 凭据仓储
func NewGormAPIKeyRepository(db *gorm.DB) repository.APIKeyRepository {
	return &GormAPIKeyRepository{db: db}
}

// Save 保存凭据
func (r *GormAPIKeyRepository) Save(ctx context.Context, key *entity.APIKey) error {
	model := apiKeyToModel(key)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save api key: " + err.Error())
	}
	key.SetID(model.ID)
	return nil
}

// FindByID 根据ID查找凭据
func (r *GormAPIKeyRepository) FindByID(ctx context.Context, id uint) (*entity.APIKey, error) {
	var model models.APIKeyModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("凭据不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find api key: " + err.Error())
	}
	return apiKeyToEntity(&model), nil
}

// FindByLLMID 查找某模型配置的全部凭据
func (r *GormAPIKeyRepository) FindByLLMID(ctx context.Context, llmID uint) ([]*entity.APIKey, error) {
	var modelList []models.APIKeyModel
	if err := r.db.WithContext(ctx).
		Where("llm_id = ?", llmID).
		Order("id").
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find api keys: " + err.Error())
	}
	out := make([]*entity.APIKey, 0, len(modelList))
	for i := range modelList {
		out = append(out, apiKeyToEntity(&modelList[i]))
	}
	return out, nil
}

// FindActiveByLLMID 查找某模型配置的首个可用凭据
func (r *GormAPIKeyRepository) FindActiveByLLMID(ctx context.Context, llmID uint) (*entity.APIKey, error) {
	var model models.APIKeyModel
	if err := r.db.WithContext(ctx).
		Where("llm_id = ? AND status = ?", llmID, entity.APIKeyStatusActive).
		Order("id").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("没有可用凭据")
		}
		return nil, domainErrors.NewInternalError("failed to find api key: " + err.Error())
	}
	return apiKeyToEntity(&model), nil
}

// FindAll 查找所有凭据
func (r *GormAPIKeyRepository) FindAll(ctx context.Context) ([]*entity.APIKey, error) {
	var modelList []models.APIKeyModel
	if err := r.db.WithContext(ctx).Order("id").Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find api keys: " + err.Error())
	}
	out := make([]*entity.APIKey, 0, len(modelList))
	for i := range modelList {
		out = append(out, apiKeyToEntity(&modelList[i]))
	}
	return out, nil
}

// Delete 删除凭据
func (r *GormAPIKeyRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.APIKeyModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete api key: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("凭据不存在")
	}
	return nil
}

// 转换方法

func llmToModel(llm *entity.LLM) *models.LLMModel {
	return &models.LLMModel{
		ID:           llm.ID(),
		Name:         llm.Name(),
		ModelType:    llm.ModelType().String(),
		ProviderType: llm.ProviderType().String(),
		ModelName:    llm.ModelName(),
		BaseURL:      llm.BaseURL(),
		APIVersion:   llm.APIVersion(),
		Status:       llm.Status(),
		CreatedAt:    llm.CreatedAt(),
		UpdatedAt:    llm.UpdatedAt(),
	}
}

func llmToEntity(model *models.LLMModel) *entity.LLM {
	return entity.ReconstructLLM(
		model.ID,
		model.Name,
		valueobject.ModelType(model.ModelType),
		valueobject.ProviderType(model.ProviderType),
		model.ModelName,
		model.BaseURL,
		model.APIVersion,
		model.Status,
		model.CreatedAt,
		model.UpdatedAt,
	)
}

func apiKeyToModel(key *entity.APIKey) *models.APIKeyModel {
	return &models.APIKeyModel{
		ID:              key.ID(),
		LLMID:           key.LLMID(),
		Alias:           key.Alias(),
		APIKeyEncrypted: key.APIKeyEncrypted(),
		Status:          key.Status(),
		CreatedAt:       key.CreatedAt(),
		UpdatedAt:       key.UpdatedAt(),
	}
}

func apiKeyToEntity(model *models.APIKeyModel) *entity.APIKey {
	return entity.ReconstructAPIKey(
		model.ID,
		model.LLMID,
		model.Alias,
		model.APIKeyEncrypted,
		model.Status,
		model.CreatedAt,
		model.UpdatedAt,
	)
}
