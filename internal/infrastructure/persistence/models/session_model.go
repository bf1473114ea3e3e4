package models

import "time"

// SessionModel 数据库会话模型
type SessionModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	UserID        uint   `gorm:"index;not null"`
	RobotID       uint   `gorm:"index"`
	Title         string `gorm:"size:255"`
	MessageCount  int
	Status        string `gorm:"index;size:16;not null"`
	IsPinned      bool
	LastMessageAt *time.Time `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定表名
func (SessionModel) TableName() string {
	return "sessions"
}

// ChatMessageModel 数据库会话消息模型
// sequence 在会话内从 1 稠密递增, 与 session_id 构成唯一键
type ChatMessageModel struct {
	MessageID         string `gorm:"primaryKey;size:64"`
	SessionID         string `gorm:"uniqueIndex:idx_session_seq;size:64;not null"`
	Sequence          int    `gorm:"uniqueIndex:idx_session_seq;not null"`
	Role              string `gorm:"size:16;not null"`
	Content           string `gorm:"type:text"`
	RetrievedContexts string `gorm:"type:text"` // JSON 数组
	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
	RetrievalTimeMS   float64
	GenerationTimeMS  float64
	TotalTimeMS       float64
	Feedback          int
	CreatedAt         time.Time
}

// TableName 指定表名
func (ChatMessageModel) TableName() string {
	return "chat_messages"
}
