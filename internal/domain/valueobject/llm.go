package valueobject

// Message 对话消息（角色 + 内容）
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 一次对话调用的完整参数
type ChatRequest struct {
	Messages    []Message              `json:"messages"`
	Model       string                 `json:"model"`
	Temperature float64                `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
	Stop        []string               `json:"stop,omitempty"`
	ExtraParams map[string]interface{} `json:"extra_params,omitempty"`
}

// Clone 深拷贝请求, 供重试/降级时改写而不影响原请求
func (r ChatRequest) Clone() ChatRequest {
	out := r
	out.Messages = append([]Message(nil), r.Messages...)
	out.Stop = append([]string(nil), r.Stop...)
	if r.ExtraParams != nil {
		out.ExtraParams = make(map[string]interface{}, len(r.ExtraParams))
		for k, v := range r.ExtraParams {
			out.ExtraParams[k] = v
		}
	}
	return out
}

// TokenUsage 一次生成的用量
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse 非流式对话结果
type ChatResponse struct {
	Content          string     `json:"content"`
	Role             string     `json:"role"`
	Model            string     `json:"model"`
	Usage            TokenUsage `json:"usage"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	FinishReason     string     `json:"finish_reason,omitempty"`
}

// StreamChunk 流式对话的一个增量
// ContentDelta 与 ReasoningDelta 互斥出现; FinishReason 非空表示流结束
type StreamChunk struct {
	ContentDelta   string      `json:"content_delta,omitempty"`
	ReasoningDelta string      `json:"reasoning_delta,omitempty"`
	FinishReason   string      `json:"finish_reason,omitempty"`
	Usage          *TokenUsage `json:"usage,omitempty"`
}

// RerankResult 重排后的一条结果
type RerankResult struct {
	Index int     `json:"index"` // 原列表下标
	Score float64 `json:"score"`
}
