package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// FailoverProvider 主备装饰器
// 主提供商失败时切到备用; 流式只在首个增量吐出前接管,
// 已经开始输出的流换备会造成内容拼接错乱, 宁可让调用方看到错误
type FailoverProvider struct {
	primary       Provider
	fallback      Provider
	fallbackModel string // 备用侧使用的模型名, 空值沿用原请求
	logger        *zap.Logger
}

// NewFailoverProvider 创建主备装饰器
func NewFailoverProvider(primary, fallback Provider, fallbackModel string, logger *zap.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:       primary,
		fallback:      fallback,
		fallbackModel: fallbackModel,
		logger: logger.With(
			zap.String("primary", primary.Tag()),
			zap.String("fallback", fallback.Tag())),
	}
}

var _ Provider = (*FailoverProvider)(nil)

// Tag 返回主提供商标签
func (p *FailoverProvider) Tag() string { return p.primary.Tag() }

// shouldFailover 判断该错误是否值得切备
// 除调用方主动取消外一律切换, 备用侧可能是不同提供商/不同模型
func shouldFailover(err error) bool {
	return service.ClassifyError(err, "", "").Kind != service.ErrKindCancelled
}

func (p *FailoverProvider) fallbackRequest(req valueobject.ChatRequest) valueobject.ChatRequest {
	out := req.Clone()
	if p.fallbackModel != "" {
		out.Model = p.fallbackModel
	}
	return out
}

// Chat 非流式对话, 主失败时整体重发到备
func (p *FailoverProvider) Chat(ctx context.Context, req valueobject.ChatRequest) (*valueobject.ChatResponse, error) {
	resp, err := p.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !shouldFailover(err) {
		return nil, err
	}
	p.logger.Warn("primary chat failed, failing over", zap.Error(err))
	return p.fallback.Chat(ctx, p.fallbackRequest(req))
}

// ChatStream 流式对话
// 主侧增量经内部 channel 转发并计数; 主失败且尚未转发任何增量时,
// 把原 channel 原样交给备用侧(由它负责关闭), 否则本层关闭并上抛
func (p *FailoverProvider) ChatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
	inner := make(chan valueobject.StreamChunk)

	type result struct {
		resp *valueobject.ChatResponse
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := p.primary.ChatStream(ctx, req, inner)
		resCh <- result{resp, err}
	}()

	forwarded := 0
	for chunk := range inner {
		deltaCh <- chunk
		forwarded++
	}
	res := <-resCh

	if res.err == nil {
		close(deltaCh)
		return res.resp, nil
	}
	if forwarded > 0 || !shouldFailover(res.err) {
		close(deltaCh)
		return nil, res.err
	}

	p.logger.Warn("primary stream failed before first delta, failing over", zap.Error(res.err))
	return p.fallback.ChatStream(ctx, p.fallbackRequest(req), deltaCh)
}

// Embed 批量向量化, 主失败切备
func (p *FailoverProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out, err := p.primary.Embed(ctx, texts, model)
	if err == nil {
		return out, nil
	}
	if !shouldFailover(err) {
		return nil, err
	}
	p.logger.Warn("primary embed failed, failing over", zap.Error(err))
	fbModel := model
	if p.fallbackModel != "" {
		fbModel = p.fallbackModel
	}
	return p.fallback.Embed(ctx, texts, fbModel)
}

// Rerank 重排, 主失败切备
func (p *FailoverProvider) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]valueobject.RerankResult, error) {
	out, err := p.primary.Rerank(ctx, query, texts, model, topN)
	if err == nil {
		return out, nil
	}
	if !shouldFailover(err) {
		return nil, err
	}
	p.logger.Warn("primary rerank failed, failing over", zap.Error(err))
	fbModel := model
	if p.fallbackModel != "" {
		fbModel = p.fallbackModel
	}
	return p.fallback.Rerank(ctx, query, texts, fbModel, topN)
}

// CountTokens 估算 token 数
func (p *FailoverProvider) CountTokens(text string) int {
	return p.primary.CountTokens(text)
}
