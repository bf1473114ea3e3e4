package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// MiniMax 流式空闲超时比通用值更紧, 其网关僵死后不会再恢复
const minimaxStreamIdleTimeout = 45 * time.Second

// MiniMax 业务状态码
const (
	minimaxCodeRateLimit       = 1002
	minimaxCodeAuthFailed      = 1004
	minimaxCodeInsufficientBal = 1008
	minimaxCodeContentFiltered = 1027
)

const minimaxFilteredPlaceholder = "[内容因安全策略被过滤]"

// 官方端点上的模型别名, 自定义 BaseURL 不套用
var minimaxModelAliases = map[string]string{
	"minimax-2.1":  "abab6.5s-chat",
	"minimax-2":    "abab6.5-chat",
	"minimax-text": "abab5.5-chat",
}

func init() {
	Register("minimax", func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewMiniMaxProvider(cfg, logger)
	})
}

// MiniMaxProvider MiniMax 客户端
// 走 OpenAI 兼容线格式, 但业务错误藏在 200 响应的 base_resp 里,
// 且温度为 0 会被拒, 需钳到 0.01
type MiniMaxProvider struct {
	*OpenAIProvider
}

// NewMiniMaxProvider 创建 MiniMax 客户端
func NewMiniMaxProvider(cfg ProviderConfig, logger *zap.Logger) *MiniMaxProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.minimax.chat/v1"
	}
	return &MiniMaxProvider{OpenAIProvider: NewOpenAIProvider(cfg, logger)}
}

var _ Provider = (*MiniMaxProvider)(nil)

type minimaxBaseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

func (p *MiniMaxProvider) checkBaseResp(base *minimaxBaseResp, model string, raw []byte) *service.LLMError {
	if base == nil || base.StatusCode == 0 {
		return nil
	}
	kind := service.ErrKindBusiness
	switch base.StatusCode {
	case minimaxCodeRateLimit:
		kind = service.ErrKindTransient
	case minimaxCodeAuthFailed, minimaxCodeInsufficientBal:
		kind = service.ErrKindAuth
	}
	return &service.LLMError{
		Kind:    kind,
		Message: fmt.Sprintf("minimax error %d: %s", base.StatusCode, base.StatusMsg),
		Provider: p.Tag(), Model: model,
		Snapshot: service.TruncateSnapshot(string(raw)),
	}
}

// adjust MiniMax 请求改写: 官方端点套别名, 温度钳下限,
// max_tokens 同步镜像为 tokens_to_generate
func (p *MiniMaxProvider) adjust(req valueobject.ChatRequest) valueobject.ChatRequest {
	out := req.Clone()
	if strings.Contains(p.baseURL, "api.minimax") {
		if alias, ok := minimaxModelAliases[strings.ToLower(out.Model)]; ok {
			out.Model = alias
		}
	}
	if out.Temperature <= 0 {
		out.Temperature = 0.01
	}
	if out.MaxTokens > 0 {
		if out.ExtraParams == nil {
			out.ExtraParams = map[string]interface{}{}
		}
		if _, exists := out.ExtraParams["tokens_to_generate"]; !exists {
			out.ExtraParams["tokens_to_generate"] = out.MaxTokens
		}
	}
	return out
}

// Chat 非流式对话, 先查 base_resp 再走通用解析
func (p *MiniMaxProvider) Chat(ctx context.Context, req valueobject.ChatRequest) (*valueobject.ChatResponse, error) {
	req = p.adjust(req)
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSONRetry(ctx, p.client, p.baseURL+"/chat/completions", p.headers(), body, p.tag, req.Model, p.logger)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		BaseResp *minimaxBaseResp `json:"base_resp"`
	}
	if err := json.Unmarshal(respBody, &envelope); err == nil {
		if envelope.BaseResp != nil && envelope.BaseResp.StatusCode == minimaxCodeContentFiltered {
			p.logger.Warn("minimax content filtered", zap.String("model", req.Model))
			return &valueobject.ChatResponse{
				Content: minimaxFilteredPlaceholder, Role: "assistant",
				Model: req.Model, FinishReason: "content_filter",
			}, nil
		}
		if llmErr := p.checkBaseResp(envelope.BaseResp, req.Model, respBody); llmErr != nil {
			return nil, llmErr
		}
	}

	var apiResp oaiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, &service.LLMError{
			Kind: service.ErrKindBusiness, Message: "empty response: no choices",
			Provider: p.tag, Model: req.Model, Snapshot: service.TruncateSnapshot(string(respBody)),
		}
	}
	choice := apiResp.Choices[0]
	return &valueobject.ChatResponse{
		Content:          choice.Message.Content,
		Role:             "assistant",
		Model:            apiResp.Model,
		ReasoningContent: choice.Message.ReasoningContent,
		FinishReason:     choice.FinishReason,
		Usage: valueobject.TokenUsage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

// ChatStream 流式对话, 复用 OpenAI 的 SSE 解析但空闲超时更紧
func (p *MiniMaxProvider) ChatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
	defer close(deltaCh)

	req = p.adjust(req)
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := postStream(ctx, p.client, p.baseURL+"/chat/completions", p.headers(), body, p.tag, req.Model)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	done := make(chan struct{})
	defer close(done)
	watchBody(ctx, resp.Body, done, p.logger)

	out, err := p.parseSSE(ctx, resp.Body, req.Model, minimaxStreamIdleTimeout, deltaCh)
	if err != nil {
		return nil, err
	}
	// 安全过滤导致的空流以占位文本帧收尾, 不作为硬错误
	if out.FinishReason == "content_filter" && strings.TrimSpace(out.Content) == "" {
		deltaCh <- valueobject.StreamChunk{ContentDelta: minimaxFilteredPlaceholder}
		out.Content = minimaxFilteredPlaceholder
	}
	return out, nil
}
