package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/crypto"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// LLMView 模型配置视图
type LLMView struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	ModelType  string    `json:"model_type"`
	Provider   string    `json:"provider"`
	ModelName  string    `json:"model_name"`
	BaseURL    string    `json:"base_url,omitempty"`
	APIVersion string    `json:"api_version,omitempty"`
	Status     int       `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func toLLMView(l *entity.LLM) LLMView {
	return LLMView{
		ID:         l.ID(),
		Name:       l.Name(),
		ModelType:  l.ModelType().String(),
		Provider:   l.ProviderType().String(),
		ModelName:  l.ModelName(),
		BaseURL:    l.BaseURL(),
		APIVersion: l.APIVersion(),
		Status:     l.Status(),
		CreatedAt:  l.CreatedAt(),
	}
}

// APIKeyView 凭据视图, 密钥永远掩码展示
type APIKeyView struct {
	ID        uint      `json:"id"`
	LLMID     uint      `json:"llm_id"`
	Alias     string    `json:"alias"`
	MaskedKey string    `json:"masked_key"`
	Status    int       `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateLLMInput 创建模型配置请求
type CreateLLMInput struct {
	Name       string `json:"name" binding:"required"`
	ModelType  string `json:"model_type" binding:"required"`
	Provider   string `json:"provider" binding:"required"`
	ModelName  string `json:"model_name" binding:"required"`
	BaseURL    string `json:"base_url"`
	APIVersion string `json:"api_version"`
}

// UpdateLLMInput 更新模型配置请求
type UpdateLLMInput struct {
	Name       string `json:"name"`
	ModelName  string `json:"model_name"`
	BaseURL    string `json:"base_url"`
	APIVersion string `json:"api_version"`
	Status     *int   `json:"status"`
}

// CreateAPIKeyInput 录入凭据请求, APIKey 为明文, 入库前加密
type CreateAPIKeyInput struct {
	LLMID  uint   `json:"llm_id" binding:"required"`
	Alias  string `json:"alias"`
	APIKey string `json:"api_key" binding:"required"`
}

// LLMUseCase 模型配置与凭据管理
type LLMUseCase struct {
	llms   repository.LLMRepository
	keys   repository.APIKeyRepository
	cipher *crypto.Cipher
	logger *zap.Logger
}

// NewLLMUseCase 创建模型管理用例
func NewLLMUseCase(llms repository.LLMRepository, keys repository.APIKeyRepository, cipher *crypto.Cipher, logger *zap.Logger) *LLMUseCase {
	return &LLMUseCase{llms: llms, keys: keys, cipher: cipher, logger: logger.Named("llm")}
}

// CreateLLM 创建模型配置
func (uc *LLMUseCase) CreateLLM(ctx context.Context, in CreateLLMInput) (*LLMView, error) {
	if _, err := uc.llms.FindByName(ctx, in.Name); err == nil {
		return nil, apperrors.NewAlreadyExistsError("同名模型配置已存在")
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	llm, err := entity.NewLLM(
		in.Name,
		valueobject.ModelType(in.ModelType),
		valueobject.ProviderType(in.Provider),
		in.ModelName, in.BaseURL, in.APIVersion,
	)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := uc.llms.Save(ctx, llm); err != nil {
		return nil, err
	}
	view := toLLMView(llm)
	return &view, nil
}

// GetLLM 查看模型配置
func (uc *LLMUseCase) GetLLM(ctx context.Context, id uint) (*LLMView, error) {
	llm, err := uc.llms.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := toLLMView(llm)
	return &view, nil
}

// ListLLMs 列出全部模型配置
func (uc *LLMUseCase) ListLLMs(ctx context.Context) ([]LLMView, error) {
	llms, err := uc.llms.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]LLMView, 0, len(llms))
	for _, l := range llms {
		views = append(views, toLLMView(l))
	}
	return views, nil
}

// UpdateLLM 更新模型配置
func (uc *LLMUseCase) UpdateLLM(ctx context.Context, id uint, in UpdateLLMInput) (*LLMView, error) {
	llm, err := uc.llms.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	llm.Update(in.Name, in.ModelName, in.BaseURL, in.APIVersion)
	if in.Status != nil {
		if *in.Status == entity.LLMStatusActive {
			llm.Enable()
		} else {
			llm.Disable()
		}
	}
	if err := uc.llms.Save(ctx, llm); err != nil {
		return nil, err
	}
	view := toLLMView(llm)
	return &view, nil
}

// DeleteLLM 删除模型配置及其全部凭据
func (uc *LLMUseCase) DeleteLLM(ctx context.Context, id uint) error {
	if _, err := uc.llms.FindByID(ctx, id); err != nil {
		return err
	}
	keys, err := uc.keys.FindByLLMID(ctx, id)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := uc.keys.Delete(ctx, k.ID()); err != nil {
			return err
		}
	}
	return uc.llms.Delete(ctx, id)
}

// CreateAPIKey 录入凭据, 明文只在本次请求内存在
func (uc *LLMUseCase) CreateAPIKey(ctx context.Context, in CreateAPIKeyInput) (*APIKeyView, error) {
	if _, err := uc.llms.FindByID(ctx, in.LLMID); err != nil {
		return nil, err
	}
	encrypted, err := uc.cipher.Encrypt(in.APIKey)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("凭据加密失败", err)
	}
	key, err := entity.NewAPIKey(in.LLMID, in.Alias, encrypted)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := uc.keys.Save(ctx, key); err != nil {
		return nil, err
	}
	return uc.keyView(key, in.APIKey), nil
}

// ListAPIKeys 列出凭据; 解密只为生成掩码, 明文不出本函数
func (uc *LLMUseCase) ListAPIKeys(ctx context.Context) ([]APIKeyView, error) {
	keys, err := uc.keys.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]APIKeyView, 0, len(keys))
	for _, k := range keys {
		plain, err := uc.cipher.Decrypt(k.APIKeyEncrypted())
		if err != nil {
			uc.logger.Warn("undecryptable api key, masking entirely",
				zap.Uint("key_id", k.ID()), zap.Error(err))
			plain = ""
		}
		views = append(views, *uc.keyView(k, plain))
	}
	return views, nil
}

// DeleteAPIKey 删除凭据
func (uc *LLMUseCase) DeleteAPIKey(ctx context.Context, id uint) error {
	if _, err := uc.keys.FindByID(ctx, id); err != nil {
		return err
	}
	return uc.keys.Delete(ctx, id)
}

func (uc *LLMUseCase) keyView(k *entity.APIKey, plainKey string) *APIKeyView {
	return &APIKeyView{
		ID:        k.ID(),
		LLMID:     k.LLMID(),
		Alias:     k.Alias(),
		MaskedKey: crypto.Mask(plainKey),
		Status:    k.Status(),
		CreatedAt: k.CreatedAt(),
	}
}
