package entity

import "time"

// APIKey 状态
const (
	APIKeyStatusActive   = 1
	APIKeyStatusDisabled = 0
)

// APIKey 提供商凭据聚合根
// 密钥以 AES-256-GCM 密文入库, 明文只在发往提供商时解出; 对外展示一律掩码
type APIKey struct {
	id              uint
	llmID           uint
	alias           string
	apiKeyEncrypted string // base64(nonce || ciphertext)
	status          int
	createdAt       time.Time
	updatedAt       time.Time
}

// NewAPIKey 创建凭据（工厂方法）
func NewAPIKey(llmID uint, alias, apiKeyEncrypted string) (*APIKey, error) {
	if alias == "" {
		return nil, ErrInvalidAPIKeyAlias
	}
	if apiKeyEncrypted == "" {
		return nil, ErrEmptyAPIKey
	}
	now := time.Now()
	return &APIKey{
		llmID:           llmID,
		alias:           alias,
		apiKeyEncrypted: apiKeyEncrypted,
		status:          APIKeyStatusActive,
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

// ReconstructAPIKey 重建凭据（用于从持久化层恢复）
func ReconstructAPIKey(
	id, llmID uint,
	alias, apiKeyEncrypted string,
	status int,
	createdAt, updatedAt time.Time,
) *APIKey {
	return &APIKey{
		id:              id,
		llmID:           llmID,
		alias:           alias,
		apiKeyEncrypted: apiKeyEncrypted,
		status:          status,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// ID 返回ID
func (k *APIKey) ID() uint { return k.id }

// SetID 回填持久化生成的主键
func (k *APIKey) SetID(id uint) { k.id = id }

// LLMID 返回绑定的模型配置ID
func (k *APIKey) LLMID() uint { return k.llmID }

// Alias 返回别名
func (k *APIKey) Alias() string { return k.alias }

// APIKeyEncrypted 返回密文
func (k *APIKey) APIKeyEncrypted() string { return k.apiKeyEncrypted }

// Status 返回状态
func (k *APIKey) Status() int { return k.status }

// CreatedAt 返回创建时间
func (k *APIKey) CreatedAt() time.Time { return k.createdAt }

// UpdatedAt 返回更新时间
func (k *APIKey) UpdatedAt() time.Time { return k.updatedAt }

// IsActive 判断是否可用
func (k *APIKey) IsActive() bool { return k.status == APIKeyStatusActive }

// Rotate 换发密钥密文
func (k *APIKey) Rotate(apiKeyEncrypted string) error {
	if apiKeyEncrypted == "" {
		return ErrEmptyAPIKey
	}
	k.apiKeyEncrypted = apiKeyEncrypted
	k.updatedAt = time.Now()
	return nil
}

// Rename 更新别名
func (k *APIKey) Rename(alias string) {
	if alias != "" {
		k.alias = alias
		k.updatedAt = time.Now()
	}
}

// Disable 停用
func (k *APIKey) Disable() {
	k.status = APIKeyStatusDisabled
	k.updatedAt = time.Now()
}

// Enable 启用
func (k *APIKey) Enable() {
	k.status = APIKeyStatusActive
	k.updatedAt = time.Now()
}
