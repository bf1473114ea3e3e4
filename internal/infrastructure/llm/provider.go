package llm

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
)

// Provider 基础设施层提供商接口
// 每个提供商实现 service.LLMClient 的全部能力集; 不支持的能力返回明确错误
type Provider interface {
	service.LLMClient

	// Tag 返回提供商标签 (如 "openai", "anthropic")
	Tag() string
}

// ProviderConfig 提供商实例配置, 来自 LLM 行 + 解密后的凭据
type ProviderConfig struct {
	Tag        string // 提供商标签
	Model      string // 默认模型名
	BaseURL    string // 自定义端点, 空值用提供商默认
	APIKey     string // 明文凭据
	APIVersion string // 如 anthropic-version
}

// --- 提供商工厂注册表 ---
// 各提供商在本包 init() 里注册; 未注册的标签回落到 OpenAI 兼容协议

// ProviderFactory 按配置创建提供商
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// Register 注册提供商工厂
func Register(tag string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[tag] = factory
}

// New 按标签创建提供商
// 未知标签按 OpenAI 兼容协议处理并记一条警告
func New(cfg ProviderConfig, logger *zap.Logger) Provider {
	factoryMu.RLock()
	factory, ok := factories[cfg.Tag]
	factoryMu.RUnlock()

	if !ok {
		logger.Warn("unknown provider tag, falling back to openai-compatible",
			zap.String("tag", cfg.Tag))
		factoryMu.RLock()
		factory = factories["openai"]
		factoryMu.RUnlock()
	}
	return factory(cfg, logger)
}
