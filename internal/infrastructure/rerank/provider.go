package rerank

import (
	"context"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// ProviderReranker 把远程提供商客户端适配为重排端口, 固定模型名
type ProviderReranker struct {
	client service.LLMClient
	model  string
}

// NewProviderReranker 创建提供商适配器
func NewProviderReranker(client service.LLMClient, model string) *ProviderReranker {
	return &ProviderReranker{client: client, model: model}
}

var _ service.Reranker = (*ProviderReranker)(nil)

// Rerank 对候选文档按查询相关性重排
func (r *ProviderReranker) Rerank(ctx context.Context, query string, docs []string, topN int) ([]valueobject.RerankResult, error) {
	return r.client.Rerank(ctx, query, docs, r.model, topN)
}
