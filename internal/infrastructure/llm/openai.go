package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// OpenAI 兼容协议覆盖的提供商及默认端点
var openAICompatibleBaseURLs = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"deepseek":    "https://api.deepseek.com/v1",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"moonshot":    "https://api.moonshot.cn/v1",
	"zhipu":       "https://open.bigmodel.cn/api/paas/v4",
	"qwen":        "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"baichuan":    "https://api.baichuan-ai.com/v1",
	"yi":          "https://api.lingyiwanwu.com/v1",
	"doubao":      "https://ark.cn-beijing.volces.com/api/v3",
	"ollama":      "http://localhost:11434/v1",
}

func init() {
	factory := func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewOpenAIProvider(cfg, logger)
	}
	for tag := range openAICompatibleBaseURLs {
		Register(tag, factory)
	}
}

// OpenAIProvider OpenAI 兼容协议客户端
// 覆盖 OpenAI / DeepSeek / SiliconFlow / Moonshot / Zhipu / Qwen / Doubao 等,
// 也是未知提供商标签的兜底实现
type OpenAIProvider struct {
	tag     string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 兼容客户端
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		if u, ok := openAICompatibleBaseURLs[cfg.Tag]; ok {
			baseURL = u
		} else {
			baseURL = openAICompatibleBaseURLs["openai"]
		}
	}
	return &OpenAIProvider{
		tag:     cfg.Tag,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  newHTTPClient(),
		logger:  logger.With(zap.String("provider", cfg.Tag)),
	}
}

var _ Provider = (*OpenAIProvider)(nil)

// Tag 返回提供商标签
func (p *OpenAIProvider) Tag() string { return p.tag }

func (p *OpenAIProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

// --- 线格式 ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model       string                 `json:"model"`
	Messages    []oaiMessage           `json:"messages"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
	Stop        []string               `json:"stop,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

// MarshalJSON 把 extra_params 平铺进请求体
func (r oaiRequest) MarshalJSON() ([]byte, error) {
	type alias oaiRequest
	base, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role             string `json:"role"`
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage oaiUsage `json:"usage"`
}

type oaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage"`
}

func (p *OpenAIProvider) buildRequest(req valueobject.ChatRequest, stream bool) oaiRequest {
	out := oaiRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
		Stop:      req.Stop,
		Extra:     req.ExtraParams,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, oaiMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Chat 非流式对话
func (p *OpenAIProvider) Chat(ctx context.Context, req valueobject.ChatRequest) (*valueobject.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSONRetry(ctx, p.client, p.baseURL+"/chat/completions", p.headers(), body, p.tag, req.Model, p.logger)
	if err != nil {
		return nil, err
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

// ChatStream 流式对话, 增量写入 deltaCh 并在返回前关闭它
func (p *OpenAIProvider) ChatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
	defer close(deltaCh)
	return p.chatStream(ctx, req, deltaCh)
}

// chatStream 是不关 channel 的流式实现, 供 MiniMax 变体复用
func (p *OpenAIProvider) chatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
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

	return p.parseSSE(ctx, resp.Body, req.Model, streamIdleTimeout, deltaCh)
}

// parseSSE 读 OpenAI 风格 SSE 流
// 收到 finish_reason 立即收尾, 不等 [DONE]: 部分兼容端点从不发送终止帧
func (p *OpenAIProvider) parseSSE(ctx context.Context, body io.Reader, model string, idle time.Duration, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
	tReader := &timedReader{r: body, timeout: idle}
	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content, reasoning strings.Builder
	var usage valueobject.TokenUsage
	var modelUsed, finishReason string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, service.ClassifyError(ctx.Err(), p.tag, model)
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Debug("skip unparseable sse chunk", zap.Error(err))
			continue
		}
		if chunk.Model != "" {
			modelUsed = chunk.Model
		}
		if chunk.Usage != nil {
			usage = valueobject.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			reasoning.WriteString(choice.Delta.ReasoningContent)
			deltaCh <- valueobject.StreamChunk{ReasoningDelta: choice.Delta.ReasoningContent}
		}
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			deltaCh <- valueobject.StreamChunk{ContentDelta: choice.Delta.Content}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
			final := valueobject.StreamChunk{FinishReason: finishReason}
			if usage.TotalTokens > 0 {
				u := usage
				final.Usage = &u
			}
			deltaCh <- final
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			p.logger.Warn("sse stream idle timeout",
				zap.Duration("idle_timeout", idle),
				zap.String("content_so_far", truncateForLog(content.String(), 100)))
			if content.Len() == 0 && reasoning.Len() == 0 {
				return nil, &service.LLMError{
					Kind: service.ErrKindTransient, Message: fmt.Sprintf("stream stalled: no data for %v", idle),
					Provider: p.tag, Model: model,
				}
			}
			// 已有内容时按部分成功返回
		} else {
			return nil, service.ClassifyError(err, p.tag, model)
		}
	}

	if usage.TotalTokens == 0 {
		usage.CompletionTokens = service.EstimateTokens(content.String())
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	if modelUsed == "" {
		modelUsed = model
	}
	return &valueobject.ChatResponse{
		Content:          content.String(),
		Role:             "assistant",
		Model:            modelUsed,
		ReasoningContent: reasoning.String(),
		FinishReason:     finishReason,
		Usage:            usage,
	}, nil
}

type oaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type oaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed 批量向量化
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(oaiEmbedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSONRetry(ctx, p.client, p.baseURL+"/embeddings", p.headers(), body, p.tag, model, p.logger)
	if err != nil {
		return nil, err
	}

	var apiResp oaiEmbedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, &service.LLMError{
			Kind:    service.ErrKindBusiness,
			Message: fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(texts), len(apiResp.Data)),
			Provider: p.tag, Model: model,
		}
	}
	out := make([][]float32, len(texts))
	for _, d := range apiResp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

type oaiRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type oaiRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank 调用 /rerank 端点 (SiliconFlow / Jina 风格)
func (p *OpenAIProvider) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]valueobject.RerankResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(oaiRerankRequest{Model: model, Query: query, Documents: texts, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSONRetry(ctx, p.client, p.baseURL+"/rerank", p.headers(), body, p.tag, model, p.logger)
	if err != nil {
		return nil, err
	}

	var apiResp oaiRerankResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	out := make([]valueobject.RerankResult, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		out = append(out, valueobject.RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}

// CountTokens 估算 token 数
func (p *OpenAIProvider) CountTokens(text string) int {
	return service.EstimateTokens(text)
}
