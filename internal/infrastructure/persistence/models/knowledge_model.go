package models

import "time"

// KnowledgeModel 数据库知识库模型
type KnowledgeModel struct {
	ID                   uint   `gorm:"primaryKey"`
	UserID               uint   `gorm:"index;not null"`
	Name                 string `gorm:"size:128;not null"`
	Description          string `gorm:"type:text"`
	EmbedLLMID           uint
	VectorCollectionName string `gorm:"size:128;not null"`
	ChunkSize            int
	ChunkOverlap         int
	DocumentCount        int64
	TotalChunks          int64
	Status               int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName 指定表名
func (KnowledgeModel) TableName() string {
	return "knowledge_bases"
}

// DocumentModel 数据库文档模型
// 解析出的正文不入库, 只在流水线消息里传递
type DocumentModel struct {
	ID            uint   `gorm:"primaryKey"`
	KnowledgeID   uint   `gorm:"index;not null"`
	FileName      string `gorm:"size:255;not null"`
	FilePath      string `gorm:"size:512"`
	FileExtension string `gorm:"size:16"`
	FileSize      int64
	MimeType      string `gorm:"size:128"`
	Status        string `gorm:"index;size:16;not null"`
	ChunkCount    int
	ErrorMsg      string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定表名
func (DocumentModel) TableName() string {
	return "documents"
}
