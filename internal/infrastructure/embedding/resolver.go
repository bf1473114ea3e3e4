package embedding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// Resolver 把知识库绑定的向量化模型解析为可调用的 Embedder
// llmID 为 0 或凭据缺失时退回本地兜底模型; 同一模型配置复用同一实例,
// 维度探测的缓存才有意义
type Resolver struct {
	clients service.ClientResolver
	local   service.Embedder
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[uint]service.Embedder
}

// NewResolver 创建解析器
func NewResolver(clients service.ClientResolver, local service.Embedder, logger *zap.Logger) *Resolver {
	return &Resolver{
		clients: clients,
		local:   local,
		logger:  logger.Named("embedding.resolver"),
		cache:   map[uint]service.Embedder{},
	}
}

var _ service.EmbedderResolver = (*Resolver)(nil)

// EmbedderFor 解析向量化端口
func (r *Resolver) EmbedderFor(ctx context.Context, llmID uint) (service.Embedder, error) {
	if llmID == 0 {
		return r.local, nil
	}

	r.mu.Lock()
	if e, ok := r.cache[llmID]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	client, row, err := r.clients.Resolve(ctx, llmID)
	if err != nil {
		// 凭据缺失退回本地模型, 其余错误上抛
		if apperrors.IsInvalidInput(err) {
			r.logger.Warn("embedding llm unusable, falling back to local embedder",
				zap.Uint("llm_id", llmID), zap.Error(err))
			return r.local, nil
		}
		return nil, err
	}
	if !row.CanEmbed() {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("模型配置 %s 不是向量化模型", row.Name()))
	}

	e := NewProviderEmbedder(client, row.ModelName())
	r.mu.Lock()
	r.cache[llmID] = e
	r.mu.Unlock()
	return e, nil
}
