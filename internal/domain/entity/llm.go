package entity

import (
	"time"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// LLM 状态
const (
	LLMStatusActive   = 1
	LLMStatusDisabled = 0
)

// LLM 模型配置聚合根
// 描述一个可调用的模型端点: 提供商标签 + 模型名 + 可选自定义端点
// 凭据不在此处, 由 APIKey 聚合单独管理
type LLM struct {
	id           uint
	name         string
	modelType    valueobject.ModelType
	providerType valueobject.ProviderType
	modelName    string
	baseURL      string
	apiVersion   string
	status       int
	createdAt    time.Time
	updatedAt    time.Time
}

// NewLLM 创建模型配置（工厂方法）
func NewLLM(
	name string,
	modelType valueobject.ModelType,
	providerType valueobject.ProviderType,
	modelName, baseURL, apiVersion string,
) (*LLM, error) {
	if name == "" {
		return nil, ErrInvalidLLMName
	}
	if !modelType.Valid() {
		return nil, ErrInvalidModelType
	}
	if providerType == "" {
		return nil, ErrInvalidProviderType
	}
	if modelName == "" {
		return nil, ErrInvalidModelName
	}

	now := time.Now()
	return &LLM{
		name:         name,
		modelType:    modelType,
		providerType: providerType,
		modelName:    modelName,
		baseURL:      baseURL,
		apiVersion:   apiVersion,
		status:       LLMStatusActive,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// ReconstructLLM 重建模型配置（用于从持久化层恢复）
func ReconstructLLM(
	id uint,
	name string,
	modelType valueobject.ModelType,
	providerType valueobject.ProviderType,
	modelName, baseURL, apiVersion string,
	status int,
	createdAt, updatedAt time.Time,
) *LLM {
	return &LLM{
		id:           id,
		name:         name,
		modelType:    modelType,
		providerType: providerType,
		modelName:    modelName,
		baseURL:      baseURL,
		apiVersion:   apiVersion,
		status:       status,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}

// ID 返回ID
func (l *LLM) ID() uint { return l.id }

// SetID 回填持久化生成的主键
func (l *LLM) SetID(id uint) { l.id = id }

// Name 返回名称
func (l *LLM) Name() string { return l.name }

// ModelType 返回模型用途类型
func (l *LLM) ModelType() valueobject.ModelType { return l.modelType }

// ProviderType 返回提供商标签
func (l *LLM) ProviderType() valueobject.ProviderType { return l.providerType }

// ModelName 返回模型名
func (l *LLM) ModelName() string { return l.modelName }

// BaseURL 返回自定义端点, 空值表示提供商默认端点
func (l *LLM) BaseURL() string { return l.baseURL }

// APIVersion 返回 API 版本(如 anthropic-version)
func (l *LLM) APIVersion() string { return l.apiVersion }

// Status 返回状态
func (l *LLM) Status() int { return l.status }

// CreatedAt 返回创建时间
func (l *LLM) CreatedAt() time.Time { return l.createdAt }

// UpdatedAt 返回更新时间
func (l *LLM) UpdatedAt() time.Time { return l.updatedAt }

// IsActive 判断是否可用
func (l *LLM) IsActive() bool { return l.status == LLMStatusActive }

// CanChat 判断是否对话模型
func (l *LLM) CanChat() bool { return l.modelType == valueobject.ModelTypeChat }

// CanEmbed 判断是否向量化模型
func (l *LLM) CanEmbed() bool { return l.modelType == valueobject.ModelTypeEmbedding }

// CanRerank 判断是否重排模型
func (l *LLM) CanRerank() bool { return l.modelType == valueobject.ModelTypeRerank }

// Update 更新可编辑字段, 空值保持原样
// model_type 不可变: 改用途会使依赖它的知识库/机器人失配
func (l *LLM) Update(name, modelName, baseURL, apiVersion string) {
	if name != "" {
		l.name = name
	}
	if modelName != "" {
		l.modelName = modelName
	}
	if baseURL != "" {
		l.baseURL = baseURL
	}
	if apiVersion != "" {
		l.apiVersion = apiVersion
	}
	l.updatedAt = time.Now()
}

// Disable 停用
func (l *LLM) Disable() {
	l.status = LLMStatusDisabled
	l.updatedAt = time.Now()
}

// Enable 启用
func (l *LLM) Enable() {
	l.status = LLMStatusActive
	l.updatedAt = time.Now()
}
