package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
)

// ProviderEmbedder 把远程提供商客户端适配为向量化端口
// 固定模型名, 维度懒探测并缓存
type ProviderEmbedder struct {
	client service.LLMClient
	model  string

	mu        sync.Mutex
	dimension int
}

// NewProviderEmbedder 创建提供商适配器
func NewProviderEmbedder(client service.LLMClient, model string) *ProviderEmbedder {
	return &ProviderEmbedder{client: client, model: model}
}

var _ service.Embedder = (*ProviderEmbedder)(nil)

// Embed 批量向量化
func (e *ProviderEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, texts, e.model)
}

// Dimension 返回向量维度, 首次调用对单字符样本编码一次
func (e *ProviderEmbedder) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimension > 0 {
		return e.dimension, nil
	}

	vecs, err := e.client.Embed(ctx, []string{"维"}, e.model)
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("probe embedding dimension: empty vector")
	}
	e.dimension = len(vecs[0])
	return e.dimension, nil
}
