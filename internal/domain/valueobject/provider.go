package valueobject

// ProviderType 提供商标签（开放集合）
// 未注册的标签按 OpenAI 兼容协议处理
type ProviderType string

const (
	ProviderOpenAI      ProviderType = "openai"
	ProviderDeepSeek    ProviderType = "deepseek"
	ProviderSiliconFlow ProviderType = "siliconflow"
	ProviderMoonshot    ProviderType = "moonshot"
	ProviderZhipu       ProviderType = "zhipu"
	ProviderQwen        ProviderType = "qwen"
	ProviderDoubao      ProviderType = "doubao"
	ProviderAnthropic   ProviderType = "anthropic"
	ProviderGoogle      ProviderType = "google"
	ProviderBaidu       ProviderType = "baidu"
	ProviderMiniMax     ProviderType = "minimax"
	ProviderOllama      ProviderType = "ollama"
)

// String 返回标签字符串
func (p ProviderType) String() string { return string(p) }

// ModelType 模型用途类型
type ModelType string

const (
	ModelTypeChat      ModelType = "chat"
	ModelTypeEmbedding ModelType = "embedding"
	ModelTypeRerank    ModelType = "rerank"
)

// Valid 判断是否合法取值
func (m ModelType) Valid() bool {
	switch m {
	case ModelTypeChat, ModelTypeEmbedding, ModelTypeRerank:
		return true
	}
	return false
}

// String 返回类型字符串
func (m ModelType) String() string { return string(m) }
