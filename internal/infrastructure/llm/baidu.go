package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// access_token 在到期前该余量内视为失效, 提前换新
const baiduTokenMargin = 5 * time.Minute

func init() {
	factory := func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewBaiduProvider(cfg, logger)
	}
	Register("baidu", factory)
	Register("wenxin", factory)
	Register("ernie", factory)
}

// BaiduProvider 百度千帆客户端
// 凭据格式为 "client_id:client_secret", 先换 access_token 再按模型路由;
// 业务错误以 200 + error_code 返回, 需单独检测
type BaiduProvider struct {
	tag     string
	baseURL string
	authURL string
	client  *http.Client
	logger  *zap.Logger

	clientID     string
	clientSecret string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewBaiduProvider 创建千帆客户端
func NewBaiduProvider(cfg ProviderConfig, logger *zap.Logger) *BaiduProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://aip.baidubce.com"
	}
	p := &BaiduProvider{
		tag:     cfg.Tag,
		baseURL: baseURL,
		authURL: baseURL + "/oauth/2.0/token",
		client:  newHTTPClient(),
		logger:  logger.With(zap.String("provider", cfg.Tag)),
	}
	if id, secret, ok := strings.Cut(cfg.APIKey, ":"); ok {
		p.clientID, p.clientSecret = id, secret
	} else {
		p.clientID = cfg.APIKey
	}
	return p
}

var _ Provider = (*BaiduProvider)(nil)

// Tag 返回提供商标签
func (p *BaiduProvider) Tag() string { return p.tag }

// token 返回缓存的 access_token, 过期则换新
func (p *BaiduProvider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry.Add(-baiduTokenMargin)) {
		return p.accessToken, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", p.clientID)
	q.Set("client_secret", p.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", service.ClassifyError(err, p.tag, "")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", service.ClassifyError(err, p.tag, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", service.ClassifyError(err, p.tag, "")
	}
	if resp.StatusCode != http.StatusOK {
		return "", service.NewHTTPError(p.tag, "", resp.StatusCode, string(body), 0)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tokenResp.Error != "" || tokenResp.AccessToken == "" {
		return "", &service.LLMError{
			Kind: service.ErrKindAuth, StatusCode: http.StatusUnauthorized,
			Message: fmt.Sprintf("token exchange failed: %s %s", tokenResp.Error, tokenResp.ErrorDesc),
			Provider: p.tag,
		}
	}

	p.accessToken = tokenResp.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	p.logger.Debug("refreshed baidu access token", zap.Time("expiry", p.tokenExpiry))
	return p.accessToken, nil
}

func (p *BaiduProvider) endpoint(ctx context.Context, kind, model string) (string, error) {
	token, err := p.token(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/rpc/2.0/ai_custom/v1/wenxinworkshop/%s/%s?access_token=%s",
		p.baseURL, kind, model, url.QueryEscape(token)), nil
}

// --- 线格式 ---

type baiduRequest struct {
	Messages        []valueobject.Message `json:"messages"`
	System          string                `json:"system,omitempty"`
	Temperature     *float64              `json:"temperature,omitempty"`
	MaxOutputTokens int                   `json:"max_output_tokens,omitempty"`
	Stop            []string              `json:"stop,omitempty"`
	Stream          bool                  `json:"stream,omitempty"`
}

type baiduResponse struct {
	Result    string `json:"result"`
	IsEnd     bool   `json:"is_end"`
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Usage     *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *BaiduProvider) buildRequest(req valueobject.ChatRequest, stream bool) baiduRequest {
	out := baiduRequest{
		MaxOutputTokens: req.MaxTokens,
		Stop:            req.Stop,
		Stream:          stream,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	// system 上提为顶层字段, 千帆要求 messages 以 user 开头且奇数条
	for _, m := range req.Messages {
		if m.Role == "system" {
			if out.System == "" {
				out.System = m.Content
			} else {
				out.System += "\n\n" + m.Content
			}
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}

func (p *BaiduProvider) checkBusinessError(resp *baiduResponse, model string, raw []byte) *service.LLMError {
	if resp.ErrorCode == 0 {
		return nil
	}
	kind := service.ErrKindBusiness
	switch resp.ErrorCode {
	case 110, 111, 100: // token 失效/过期/无效
		kind = service.ErrKindAuth
		p.mu.Lock()
		p.accessToken = ""
		p.mu.Unlock()
	case 18, 336501: // qps 限流, 可重试
		kind = service.ErrKindTransient
	}
	return &service.LLMError{
		Kind:    kind,
		Message: fmt.Sprintf("baidu error %d: %s", resp.ErrorCode, resp.ErrorMsg),
		Provider: p.tag, Model: model,
		Snapshot: service.TruncateSnapshot(string(raw)),
	}
}

// Chat 非流式对话
func (p *BaiduProvider) Chat(ctx context.Context, req valueobject.ChatRequest) (*valueobject.ChatResponse, error) {
	endpoint, err := p.endpoint(ctx, "chat", req.Model)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSONRetry(ctx, p.client, endpoint, nil, body, p.tag, req.Model, p.logger)
	if err != nil {
		return nil, err
	}

	var apiResp baiduResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if llmErr := p.checkBusinessError(&apiResp, req.Model, respBody); llmErr != nil {
		return nil, llmErr
	}

	out := &valueobject.ChatResponse{
		Content:      apiResp.Result,
		Role:         "assistant",
		Model:        req.Model,
		FinishReason: "stop",
	}
	if apiResp.Usage != nil {
		out.Usage = valueobject.TokenUsage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ChatStream 流式对话, is_end=true 的分片携带最终用量
func (p *BaiduProvider) ChatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
	defer close(deltaCh)

	endpoint, err := p.endpoint(ctx, "chat", req.Model)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := postStream(ctx, p.client, endpoint, nil, body, p.tag, req.Model)
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
	var usage valueobject.TokenUsage
	var finished bool

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, service.ClassifyError(ctx.Err(), p.tag, req.Model)
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			// 业务错误不走 SSE, 整行是一个 JSON 对象
			if strings.HasPrefix(line, "{") {
				var errResp baiduResponse
				if json.Unmarshal([]byte(line), &errResp) == nil {
					if llmErr := p.checkBusinessError(&errResp, req.Model, []byte(line)); llmErr != nil {
						return nil, llmErr
					}
				}
			}
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var chunk baiduResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Debug("skip unparseable sse chunk", zap.Error(err))
			continue
		}
		if llmErr := p.checkBusinessError(&chunk, req.Model, []byte(data)); llmErr != nil {
			return nil, llmErr
		}
		if chunk.Result != "" {
			content.WriteString(chunk.Result)
			deltaCh <- valueobject.StreamChunk{ContentDelta: chunk.Result}
		}
		if chunk.Usage != nil {
			usage = valueobject.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if chunk.IsEnd {
			finished = true
			u := usage
			deltaCh <- valueobject.StreamChunk{FinishReason: "stop", Usage: &u}
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			p.logger.Warn("baidu stream idle timeout", zap.Duration("idle_timeout", streamIdleTimeout))
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

	if usage.TotalTokens == 0 {
		usage.CompletionTokens = service.EstimateTokens(content.String())
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	finishReason := ""
	if finished {
		finishReason = "stop"
	}
	return &valueobject.ChatResponse{
		Content:      content.String(),
		Role:         "assistant",
		Model:        req.Model,
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

type baiduEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Embed 批量向量化
func (p *BaiduProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	endpoint, err := p.endpoint(ctx, "embeddings", model)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]interface{}{"input": texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSONRetry(ctx, p.client, endpoint, nil, body, p.tag, model, p.logger)
	if err != nil {
		return nil, err
	}

	var apiResp baiduEmbedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if apiResp.ErrorCode != 0 {
		return nil, p.checkBusinessError(&baiduResponse{ErrorCode: apiResp.ErrorCode, ErrorMsg: apiResp.ErrorMsg}, model, respBody)
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
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &service.LLMError{
				Kind: service.ErrKindBusiness, Message: fmt.Sprintf("embedding index %d out of range", d.Index),
				Provider: p.tag, Model: model,
			}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

type baiduRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Rerank 文档重排
func (p *BaiduProvider) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]valueobject.RerankResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	endpoint, err := p.endpoint(ctx, "reranker", model)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"query":     query,
		"documents": texts,
	}
	if topN > 0 {
		payload["top_n"] = topN
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := postJSONRetry(ctx, p.client, endpoint, nil, body, p.tag, model, p.logger)
	if err != nil {
		return nil, err
	}

	var apiResp baiduRerankResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if apiResp.ErrorCode != 0 {
		return nil, p.checkBusinessError(&baiduResponse{ErrorCode: apiResp.ErrorCode, ErrorMsg: apiResp.ErrorMsg}, model, respBody)
	}
	out := make([]valueobject.RerankResult, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		out = append(out, valueobject.RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}

// CountTokens 估算 token 数
func (p *BaiduProvider) CountTokens(text string) int {
	return service.EstimateTokens(text)
}
