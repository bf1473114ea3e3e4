package models

import "time"

// LLMModel 数据库模型配置模型
type LLMModel struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;size:64;not null"`
	ModelType    string `gorm:"index;size:16;not null"`
	ProviderType string `gorm:"size:32;not null"`
	ModelName    string `gorm:"size:128;not null"`
	BaseURL      string `gorm:"size:255"`
	APIVersion   string `gorm:"size:32"`
	Status       int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 指定表名
func (LLMModel) TableName() string {
	return "llms"
}

// APIKeyModel 数据库凭据模型, 密钥列只存 AES-256-GCM 密文
type APIKeyModel struct {
	ID              uint   `gorm:"primaryKey"`
	LLMID           uint   `gorm:"index;not null"`
	Alias           string `gorm:"size:64;not null"`
	APIKeyEncrypted string `gorm:"type:text;not null"`
	Status          int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName 指定表名
func (APIKeyModel) TableName() string {
	return "api_keys"
}
