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

func init() {
	factory := func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewGoogleProvider(cfg, logger)
	}
	Register("google", factory)
	Register("gemini", factory)
}

// GoogleProvider Gemini generateContent API 客户端
// assistant 角色映射为 model, 内容走 parts[].text
type GoogleProvider struct {
	tag     string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewGoogleProvider 创建 Gemini 客户端
func NewGoogleProvider(cfg ProviderConfig, logger *zap.Logger) *GoogleProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GoogleProvider{
		tag:     cfg.Tag,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  newHTTPClient(),
		logger:  logger.With(zap.String("provider", cfg.Tag)),
	}
}

var _ Provider = (*GoogleProvider)(nil)

// Tag 返回提供商标签
func (p *GoogleProvider) Tag() string { return p.tag }

func (p *GoogleProvider) headers() map[string]string {
	return map[string]string{"x-goog-api-key": p.apiKey}
}

// --- 线格式 ---

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     *float64 `json:"temperature,omitempty"`
		MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
		StopSequences   []string `json:"stopSequences,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *GoogleProvider) buildRequest(req valueobject.ChatRequest) geminiRequest {
	var out geminiRequest
	out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	out.GenerationConfig.StopSequences = req.Stop
	if req.Temperature > 0 {
		t := req.Temperature
		out.GenerationConfig.Temperature = &t
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if out.SystemInstruction == nil {
				out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			} else {
				out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, geminiPart{Text: m.Content})
			}
		case "assistant":
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return out
}

func (p *GoogleProvider) extract(resp *geminiResponse, model string) *valueobject.ChatResponse {
	out := &valueobject.ChatResponse{Role: "assistant", Model: model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
		out.Content = b.String()
		out.FinishReason = strings.ToLower(cand.FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.Usage = valueobject.TokenUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out
}

// Chat 非流式对话 (generateContent)
func (p *GoogleProvider) Chat(ctx context.Context, req valueobject.ChatRequest) (*valueobject.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, req.Model)
	respBody, err := postJSONRetry(ctx, p.client, url, p.headers(), body, p.tag, req.Model, p.logger)
	if err != nil {
		return nil, err
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, &service.LLMError{
			Kind: service.ErrKindBusiness, Message: "empty response: no candidates",
			Provider: p.tag, Model: req.Model, Snapshot: service.TruncateSnapshot(string(respBody)),
		}
	}
	return p.extract(&apiResp, req.Model), nil
}

// ChatStream 流式对话 (streamGenerateContent?alt=sse)
func (p *GoogleProvider) ChatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
	defer close(deltaCh)

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, req.Model)
	resp, err := postStream(ctx, p.client, url, p.headers(), body, p.tag, req.Model)
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

	var content strings.Builder
	var finishReason, modelUsed string
	var usage valueobject.TokenUsage

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, service.ClassifyError(ctx.Err(), p.tag, req.Model)
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Debug("skip unparseable sse chunk", zap.Error(err))
			continue
		}
		if chunk.ModelVersion != "" {
			modelUsed = chunk.ModelVersion
		}
		if chunk.UsageMetadata != nil {
			usage = valueobject.TokenUsage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			}
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				content.WriteString(part.Text)
				deltaCh <- valueobject.StreamChunk{ContentDelta: part.Text}
			}
		}
		if cand.FinishReason != "" {
			finishReason = strings.ToLower(cand.FinishReason)
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			p.logger.Warn("gemini stream idle timeout", zap.Duration("idle_timeout", streamIdleTimeout))
			if content.Len() == 0 {
				return nil, &service.LLMError{
					Kind: service.ErrKindTransient, Message: fmt.Sprintf("stream stalled: no data for %v", streamIdleTimeout),
					Provider: p.tag, Model: req.Model,
				}
			}
		} else {
			return nil, service.ClassifyError(err, p.tag, req.Model)
		}
	}

	if finishReason != "" {
		u := usage
		deltaCh <- valueobject.StreamChunk{FinishReason: finishReason, Usage: &u}
	}
	if usage.TotalTokens == 0 {
		usage.CompletionTokens = service.EstimateTokens(content.String())
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	if modelUsed == "" {
		modelUsed = req.Model
	}
	return &valueobject.ChatResponse{
		Content:      content.String(),
		Role:         "assistant",
		Model:        modelUsed,
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

type geminiEmbedRequest struct {
	Requests []struct {
		Model   string        `json:"model"`
		Content geminiContent `json:"content"`
	} `json:"requests"`
}

type geminiEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// Embed 批量向量化 (batchEmbedContents)
func (p *GoogleProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var req geminiEmbedRequest
	for _, t := range texts {
		req.Requests = append(req.Requests, struct {
			Model   string        `json:"model"`
			Content geminiContent `json:"content"`
		}{
			Model:   "models/" + model,
			Content: geminiContent{Parts: []geminiPart{{Text: t}}},
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", p.baseURL, model)
	respBody, err := postJSONRetry(ctx, p.client, url, p.headers(), body, p.tag, model, p.logger)
	if err != nil {
		return nil, err
	}

	var apiResp geminiEmbedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Embeddings) != len(texts) {
		return nil, &service.LLMError{
			Kind:    service.ErrKindBusiness,
			Message: fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(texts), len(apiResp.Embeddings)),
			Provider: p.tag, Model: model,
		}
	}
	out := make([][]float32, len(texts))
	for i, e := range apiResp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Rerank Gemini 无重排端点
func (p *GoogleProvider) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]valueobject.RerankResult, error) {
	return nil, &service.LLMError{
		Kind: service.ErrKindBadRequest, Message: "google does not provide a rerank endpoint",
		Provider: p.tag, Model: model,
	}
}

// CountTokens 估算 token 数
func (p *GoogleProvider) CountTokens(text string) int {
	return service.EstimateTokens(text)
}
