package repository

import (
	"context"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
)

// SessionRepository 会话仓储接口
type SessionRepository interface {
	// Save 保存会话（创建或更新）
	Save(ctx context.Context, session *entity.Session) error

	// FindByID 根据ID查找会话
	FindByID(ctx context.Context, id string) (*entity.Session, error)

	// FindByUserID 分页查找用户的会话, status 为空表示排除已删除的全部
	// 排序: 置顶优先, 其次最近消息时间倒序
	FindByUserID(ctx context.Context, userID uint, status string, limit, offset int) ([]*entity.Session, error)

	// CountByUserID 统计用户的会话数量, status 语义同上
	CountByUserID(ctx context.Context, userID uint, status string) (int64, error)

	// FindInactiveSince 查找最近消息时间早于 cutoff 的活跃会话
	FindInactiveSince(ctx context.Context, cutoffUnix int64, limit int) ([]*entity.Session, error)

	// Delete 物理删除会话(仅运维用, 业务删除走软删)
	Delete(ctx context.Context, id string) error
}

// ChatHistoryRepository 对话历史仓储接口
type ChatHistoryRepository interface {
	// Save 保存消息; 在同一事务内分配 sequence = 当前条数 + 1
	Save(ctx context.Context, msg *entity.ChatMessage) error

	// FindByID 根据消息ID查找
	FindByID(ctx context.Context, messageID string) (*entity.ChatMessage, error)

	// FindBySessionID 按序号升序分页查找会话消息
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]*entity.ChatMessage, error)

	// FindRecent 查找会话最近 n 条消息, 返回序号升序
	FindRecent(ctx context.Context, sessionID string, n int) ([]*entity.ChatMessage, error)

	// Count 统计会话消息数量
	Count(ctx context.Context, sessionID string) (int64, error)

	// UpdateFeedback 更新消息反馈
	UpdateFeedback(ctx context.Context, messageID string, feedback int) error

	// DeleteBySessionID 删除会话的全部消息
	DeleteBySessionID(ctx context.Context, sessionID string) error
}
