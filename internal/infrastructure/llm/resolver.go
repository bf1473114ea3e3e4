package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/crypto"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// Resolver 把模型配置ID解析为可调用的客户端
// 查配置行、取可用凭据、解密、套预设, 必要时再包一层主备降级
type Resolver struct {
	llmRepo  repository.LLMRepository
	keyRepo  repository.APIKeyRepository
	cipher   *crypto.Cipher
	presets  Presets
	logger   *zap.Logger

	// 对话调用的全局备用模型配置ID, 0 表示不启用降级
	fallbackLLMID uint
}

// NewResolver 创建解析器
func NewResolver(
	llmRepo repository.LLMRepository,
	keyRepo repository.APIKeyRepository,
	cipher *crypto.Cipher,
	presets Presets,
	fallbackLLMID uint,
	logger *zap.Logger,
) *Resolver {
	if presets == nil {
		presets = Presets{}
	}
	return &Resolver{
		llmRepo:       llmRepo,
		keyRepo:       keyRepo,
		cipher:        cipher,
		presets:       presets,
		fallbackLLMID: fallbackLLMID,
		logger:        logger.Named("llm.resolver"),
	}
}

var _ service.ClientResolver = (*Resolver)(nil)

// Resolve 解析模型配置为已绑定凭据的客户端
// 配置了备用模型时, 对话客户端自动套上降级包装
func (r *Resolver) Resolve(ctx context.Context, llmID uint) (service.LLMClient, *entity.LLM, error) {
	primary, row, err := r.build(ctx, llmID)
	if err != nil {
		return nil, nil, err
	}

	if r.fallbackLLMID == 0 || r.fallbackLLMID == llmID || !row.CanChat() {
		return primary, row, nil
	}
	fallback, fbRow, err := r.build(ctx, r.fallbackLLMID)
	if err != nil {
		r.logger.Warn("fallback llm unavailable, serving primary only",
			zap.Uint("fallback_llm_id", r.fallbackLLMID), zap.Error(err))
		return primary, row, nil
	}
	return NewFailoverProvider(primary, fallback, fbRow.ModelName(), r.logger), row, nil
}

// build 构造单个提供商实例
func (r *Resolver) build(ctx context.Context, llmID uint) (Provider, *entity.LLM, error) {
	row, err := r.llmRepo.FindByID(ctx, llmID)
	if err != nil {
		return nil, nil, err
	}
	if !row.IsActive() {
		return nil, nil, apperrors.NewInvalidInputError(fmt.Sprintf("模型配置 %s 已停用", row.Name()))
	}

	key, err := r.keyRepo.FindActiveByLLMID(ctx, llmID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil, apperrors.NewInvalidInputError(fmt.Sprintf("模型配置 %s 没有可用凭据", row.Name()))
		}
		return nil, nil, err
	}
	plainKey, err := r.cipher.Decrypt(key.APIKeyEncrypted())
	if err != nil {
		return nil, nil, apperrors.NewInternalErrorWithCause("凭据解密失败", err)
	}

	cfg := r.presets.Apply(ProviderConfig{
		Tag:        string(row.ProviderType()),
		Model:      row.ModelName(),
		BaseURL:    row.BaseURL(),
		APIKey:     plainKey,
		APIVersion: row.APIVersion(),
	})
	return New(cfg, r.logger), row, nil
}
