package entity

import (
	"time"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// 消息角色
const (
	MsgRoleUser      = "user"
	MsgRoleAssistant = "assistant"
	MsgRoleSystem    = "system"
)

// 消息反馈
const (
	FeedbackDown = -1
	FeedbackNone = 0
	FeedbackUp   = 1
)

// ChatMessage 会话消息实体
// sequence 在会话内从 1 开始稠密递增, 由仓储在同一事务里基于当前条数分配
type ChatMessage struct {
	messageID         string
	sessionID         string
	sequence          int
	role              string
	content           string
	retrievedContexts []valueobject.RetrievedChunk
	promptTokens      int
	completionTokens  int
	totalTokens       int
	retrievalTimeMS   float64
	generationTimeMS  float64
	totalTimeMS       float64
	feedback          int
	createdAt         time.Time
}

// NewChatMessage 创建消息（工厂方法）, messageID 由调用方生成(uuid)
func NewChatMessage(messageID, sessionID, role, content string) (*ChatMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}
	switch role {
	case MsgRoleUser, MsgRoleAssistant, MsgRoleSystem:
	default:
		return nil, ErrInvalidMessageRole
	}
	if content == "" {
		return nil, ErrEmptyMessage
	}
	return &ChatMessage{
		messageID: messageID,
		sessionID: sessionID,
		role:      role,
		content:   content,
		createdAt: time.Now(),
	}, nil
}

// ReconstructChatMessage 重建消息（用于从持久化层恢复）
func ReconstructChatMessage(
	messageID, sessionID string,
	sequence int,
	role, content string,
	retrievedContexts []valueobject.RetrievedChunk,
	promptTokens, completionTokens, totalTokens, feedback int,
	createdAt time.Time,
) *ChatMessage {
	return &ChatMessage{
		messageID:         messageID,
		sessionID:         sessionID,
		sequence:          sequence,
		role:              role,
		content:           content,
		retrievedContexts: retrievedContexts,
		promptTokens:      promptTokens,
		completionTokens:  completionTokens,
		totalTokens:       totalTokens,
		feedback:          feedback,
		createdAt:         createdAt,
	}
}

// MessageID 返回消息ID
func (m *ChatMessage) MessageID() string { return m.messageID }

// SessionID 返回会话ID
func (m *ChatMessage) SessionID() string { return m.sessionID }

// Sequence 返回会话内序号
func (m *ChatMessage) Sequence() int { return m.sequence }

// SetSequence 由仓储在保存事务里分配序号
func (m *ChatMessage) SetSequence(seq int) { m.sequence = seq }

// Role 返回角色
func (m *ChatMessage) Role() string { return m.role }

// Content 返回内容
func (m *ChatMessage) Content() string { return m.content }

// RetrievedContexts 返回检索上下文（副本）
func (m *ChatMessage) RetrievedContexts() []valueobject.RetrievedChunk {
	return append([]valueobject.RetrievedChunk(nil), m.retrievedContexts...)
}

// SetRetrievedContexts 记录本轮检索命中
func (m *ChatMessage) SetRetrievedContexts(chunks []valueobject.RetrievedChunk) {
	m.retrievedContexts = append([]valueobject.RetrievedChunk(nil), chunks...)
}

// PromptTokens 返回提示词 token 数
func (m *ChatMessage) PromptTokens() int { return m.promptTokens }

// CompletionTokens 返回生成 token 数
func (m *ChatMessage) CompletionTokens() int { return m.completionTokens }

// TotalTokens 返回总 token 数
func (m *ChatMessage) TotalTokens() int { return m.totalTokens }

// SetTokenUsage 写入用量
func (m *ChatMessage) SetTokenUsage(prompt, completion, total int) {
	m.promptTokens = prompt
	m.completionTokens = completion
	if total == 0 {
		total = prompt + completion
	}
	m.totalTokens = total
}

// RetrievalTimeMS 返回检索耗时(毫秒)
func (m *ChatMessage) RetrievalTimeMS() float64 { return m.retrievalTimeMS }

// GenerationTimeMS 返回生成耗时(毫秒)
func (m *ChatMessage) GenerationTimeMS() float64 { return m.generationTimeMS }

// TotalTimeMS 返回整轮耗时(毫秒)
func (m *ChatMessage) TotalTimeMS() float64 { return m.totalTimeMS }

// SetTimings 写入助手消息的分阶段耗时
func (m *ChatMessage) SetTimings(retrievalMS, generationMS, totalMS float64) {
	m.retrievalTimeMS = retrievalMS
	m.generationTimeMS = generationMS
	m.totalTimeMS = totalMS
}

// Feedback 返回反馈: -1 踩, 0 无, 1 赞
func (m *ChatMessage) Feedback() int { return m.feedback }

// SetFeedback 写入反馈
func (m *ChatMessage) SetFeedback(v int) error {
	if v != FeedbackDown && v != FeedbackNone && v != FeedbackUp {
		return ErrInvalidFeedback
	}
	m.feedback = v
	return nil
}

// CreatedAt 返回创建时间
func (m *ChatMessage) CreatedAt() time.Time { return m.createdAt }

// IsFromUser 判断是否用户消息
func (m *ChatMessage) IsFromUser() bool { return m.role == MsgRoleUser }

// IsFromAssistant 判断是否助手消息
func (m *ChatMessage) IsFromAssistant() bool { return m.role == MsgRoleAssistant }
