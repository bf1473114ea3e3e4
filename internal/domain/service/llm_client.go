package service

import (
	"context"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// LLMClient is the capability set over any LLM vendor.
// ChatStream writes deltas into the caller-supplied channel and returns the
// accumulated final response after the stream ends; the caller must drain the channel.
type LLMClient interface {
	// Chat 非流式对话
	Chat(ctx context.Context, req valueobject.ChatRequest) (*valueobject.ChatResponse, error)

	// ChatStream 流式对话, 增量写入 deltaCh, 结束后 channel 被关闭
	ChatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error)

	// Embed 批量向量化
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)

	// Rerank 对候选文本重排, 返回 (原下标, 相关性分) 按分数降序
	Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]valueobject.RerankResult, error)

	// CountTokens 估算文本 token 数
	CountTokens(text string) int
}

// ClientResolver 按模型配置ID解析出已绑定凭据的客户端
// 解密凭据、选择提供商实现、套上降级包装都发生在实现内部
type ClientResolver interface {
	Resolve(ctx context.Context, llmID uint) (LLMClient, *entity.LLM, error)
}

// Embedder 向量化端口, 屏蔽远程模型与本地兜底服务的差异
type Embedder interface {
	// Embed 批量向量化, 返回与输入等长的向量列表
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension 探测向量维度(对单字符样本编码一次)
	Dimension(ctx context.Context) (int, error)
}

// EmbedderResolver 把知识库绑定的向量化模型解析为可调用的 Embedder
// llmID 为 0 或凭据缺失时退回本地兜底模型
type EmbedderResolver interface {
	EmbedderFor(ctx context.Context, llmID uint) (Embedder, error)
}

// Reranker 重排端口
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, topN int) ([]valueobject.RerankResult, error)
}

// RerankerResolver 解析机器人配置的重排模型, llmID 为 0 时退回本地交叉编码器
type RerankerResolver interface {
	RerankerFor(ctx context.Context, llmID uint) (Reranker, error)
}
