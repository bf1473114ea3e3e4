package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

const defaultAnthropicVersion = "2023-06-01"

func init() {
	Register("anthropic", func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewAnthropicProvider(cfg, logger)
	})
	Register("claude", func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewAnthropicProvider(cfg, logger)
	})
}

// AnthropicProvider Anthropic Messages API 客户端
// system 消息上提为顶层 system 字段; SSE 按事件类型解析
type AnthropicProvider struct {
	tag        string
	baseURL    string
	apiKey     string
	apiVersion string
	client     *http.Client
	logger     *zap.Logger
}

// NewAnthropicProvider 创建 Anthropic 客户端
func NewAnthropicProvider(cfg ProviderConfig, logger *zap.Logger) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAnthropicVersion
	}
	return &AnthropicProvider{
		tag:        cfg.Tag,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		apiVersion: version,
		client:     newHTTPClient(),
		logger:     logger.With(zap.String("provider", cfg.Tag)),
	}
}

var _ Provider = (*AnthropicProvider)(nil)

// Tag 返回提供商标签
func (p *AnthropicProvider) Tag() string { return p.tag }

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.apiVersion,
	}
}

// --- 线格式 ---

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []anthMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	StopSeqs    []string      `json:"stop_sequences,omitempty"`
}

type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      anthUsage `json:"usage"`
}

// anthStreamEvent 流式事件, 按 event 名选择性解析
type anthStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		Model string    `json:"model"`
		Usage anthUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		Thinking   string `json:"thinking"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthUsage `json:"usage"`
}

func (p *AnthropicProvider) buildRequest(req valueobject.ChatRequest, stream bool) anthRequest {
	out := anthRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
		StopSeqs:  req.Stop,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	// system 消息上提, 其余角色原样映射
	for _, m := range req.Messages {
		if m.Role == "system" {
			if out.System == "" {
				out.System = m.Content
			} else {
				out.System += "\n\n" + m.Content
			}
			continue
		}
		out.Messages = append(out.Messages, anthMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Chat 非流式对话
func (p *AnthropicProvider) Chat(ctx context.Context, req valueobject.ChatRequest) (*valueobject.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSONRetry(ctx, p.client, p.baseURL+"/v1/messages", p.headers(), body, p.tag, req.Model, p.logger)
	if err != nil {
		return nil, err
	}

	var apiResp anthResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var content, reasoning strings.Builder
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
		}
	}
	usage := valueobject.TokenUsage{
		PromptTokens:     apiResp.Usage.InputTokens,
		CompletionTokens: apiResp.Usage.OutputTokens,
		TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
	}
	return &valueobject.ChatResponse{
		Content:          content.String(),
		Role:             "assistant",
		Model:            apiResp.Model,
		ReasoningContent: reasoning.String(),
		FinishReason:     apiResp.StopReason,
		Usage:            usage,
	}, nil
}

// ChatStream 流式对话
// 事件序列: message_start → content_block_delta* → message_delta → message_stop
func (p *AnthropicProvider) ChatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
	defer close(deltaCh)

	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := postStream(ctx, p.client, p.baseURL+"/v1/messages", p.headers(), body, p.tag, req.Model)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	done := make(chan struct{})
	defer close(done)
	watchBody(ctx, resp.Body, done, p.logger)

	tReader := &timedReader{r: resp.Body, timeout: streamIdleTimeout}
	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content, reasoning strings.Builder
	var modelUsed, finishReason string
	var usage anthUsage
	var currentEvent string

scan:
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, service.ClassifyError(ctx.Err(), p.tag, req.Model)
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var evt anthStreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			p.logger.Debug("skip unparseable sse event", zap.String("event", currentEvent), zap.Error(err))
			continue
		}

		switch currentEvent {
		case "message_start":
			if evt.Message != nil {
				modelUsed = evt.Message.Model
				usage.InputTokens = evt.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				if evt.Delta.Text != "" {
					content.WriteString(evt.Delta.Text)
					deltaCh <- valueobject.StreamChunk{ContentDelta: evt.Delta.Text}
				}
			case "thinking_delta":
				if evt.Delta.Thinking != "" {
					reasoning.WriteString(evt.Delta.Thinking)
					deltaCh <- valueobject.StreamChunk{ReasoningDelta: evt.Delta.Thinking}
				}
			}
		case "message_delta":
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				finishReason = evt.Delta.StopReason
			}
			if evt.Usage != nil {
				usage.OutputTokens = evt.Usage.OutputTokens
			}
		case "message_stop":
			break scan
		case "ping":
			// 心跳, 忽略
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			p.logger.Warn("anthropic stream idle timeout", zap.Duration("idle_timeout", streamIdleTimeout))
			if content.Len() == 0 && reasoning.Len() == 0 {
				return nil, &service.LLMError{
					Kind: service.ErrKindTransient, Message: fmt.Sprintf("stream stalled: no data for %v", streamIdleTimeout),
					Provider: p.tag, Model: req.Model,
				}
			}
		} else {
			return nil, service.ClassifyError(err, p.tag, req.Model)
		}
	}

	vu := valueobject.TokenUsage{
		PromptTokens:     usage.InputTokens,
		CompletionTokens: usage.OutputTokens,
		TotalTokens:      usage.InputTokens + usage.OutputTokens,
	}
	if finishReason != "" {
		u := vu
		deltaCh <- valueobject.StreamChunk{FinishReason: finishReason, Usage: &u}
	}
	if modelUsed == "" {
		modelUsed = req.Model
	}
	return &valueobject.ChatResponse{
		Content:          content.String(),
		Role:             "assistant",
		Model:            modelUsed,
		ReasoningContent: reasoning.String(),
		FinishReason:     finishReason,
		Usage:            vu,
	}, nil
}

// Embed Anthropic 无向量化端点
func (p *AnthropicProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return nil, &service.LLMError{
		Kind: service.ErrKindBadRequest, Message: "anthropic does not provide an embeddings endpoint",
		Provider: p.tag, Model: model,
	}
}

// Rerank Anthropic 无重排端点
func (p *AnthropicProvider) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]valueobject.RerankResult, error) {
	return nil, &service.LLMError{
		Kind: service.ErrKindBadRequest, Message: "anthropic does not provide a rerank endpoint",
		Provider: p.tag, Model: model,
	}
}

// CountTokens 估算 token 数
func (p *AnthropicProvider) CountTokens(text string) int {
	return service.EstimateTokens(text)
}
