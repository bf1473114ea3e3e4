package rerank

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// Resolver 解析机器人配置的重排模型
// llmID 为 0、模型无自定义端点或凭据缺失时退回本地交叉编码器
type Resolver struct {
	clients service.ClientResolver
	local   service.Reranker
	logger  *zap.Logger
}

// NewResolver 创建解析器
func NewResolver(clients service.ClientResolver, local service.Reranker, logger *zap.Logger) *Resolver {
	return &Resolver{
		clients: clients,
		local:   local,
		logger:  logger.Named("rerank.resolver"),
	}
}

var _ service.RerankerResolver = (*Resolver)(nil)

// RerankerFor 解析重排端口
func (r *Resolver) RerankerFor(ctx context.Context, llmID uint) (service.Reranker, error) {
	if llmID == 0 {
		return r.local, nil
	}

	client, row, err := r.clients.Resolve(ctx, llmID)
	if err != nil {
		if apperrors.IsInvalidInput(err) {
			r.logger.Warn("rerank llm unusable, falling back to local reranker",
				zap.Uint("llm_id", llmID), zap.Error(err))
			return r.local, nil
		}
		return nil, err
	}
	if !row.CanRerank() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("模型配置 %s 不是重排模型", row.Name()))
	}
	// 未配置端点的重排行指向本地交叉编码器
	if row.BaseURL() == "" {
		return r.local, nil
	}
	return NewProviderReranker(client, row.ModelName()), nil
}
