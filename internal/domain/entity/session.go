package entity

import "time"

// 会话状态
const (
	SessionStatusActive   = "active"
	SessionStatusArchived = "archived"
	SessionStatusDeleted  = "deleted"
)

// 自动标题截取的最大字符数
const sessionTitleRunes = 50

// Session 会话聚合根
// 一个会话恒定绑定一个机器人; 删除是软删除(status=deleted)
type Session struct {
	id            string
	userID        uint
	robotID       uint
	title         string
	messageCount  int
	status        string
	isPinned      bool
	lastMessageAt *time.Time
	createdAt     time.Time
	updatedAt     time.Time
}

// NewSession 创建会话（工厂方法）, id 由调用方生成(uuid)
func NewSession(id string, userID, robotID uint, title string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidSessionID
	}
	if title == "" {
		title = "新会话"
	}
	now := time.Now()
	return &Session{
		id:        id,
		userID:    userID,
		robotID:   robotID,
		title:     title,
		status:    SessionStatusActive,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructSession 重建会话（用于从持久化层恢复）
func ReconstructSession(
	id string,
	userID, robotID uint,
	title string,
	messageCount int,
	status string,
	isPinned bool,
	lastMessageAt *time.Time,
	createdAt, updatedAt time.Time,
) *Session {
	return &Session{
		id:            id,
		userID:        userID,
		robotID:       robotID,
		title:         title,
		messageCount:  messageCount,
		status:        status,
		isPinned:      isPinned,
		lastMessageAt: lastMessageAt,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// ID 返回会话ID
func (s *Session) ID() string { return s.id }

// UserID 返回所属用户ID
func (s *Session) UserID() uint { return s.userID }

// RobotID 返回机器人ID
func (s *Session) RobotID() uint { return s.robotID }

// Title 返回标题
func (s *Session) Title() string { return s.title }

// MessageCount 返回消息条数
func (s *Session) MessageCount() int { return s.messageCount }

// Status 返回状态
func (s *Session) Status() string { return s.status }

// IsPinned 返回是否置顶
func (s *Session) IsPinned() bool { return s.isPinned }

// LastMessageAt 返回最近消息时间
func (s *Session) LastMessageAt() *time.Time { return s.lastMessageAt }

// CreatedAt 返回创建时间
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt 返回更新时间
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

// IsActive 判断是否活跃
func (s *Session) IsActive() bool { return s.status == SessionStatusActive }

// OwnedBy 判断归属
func (s *Session) OwnedBy(userID uint) bool { return s.userID == userID }

// BoundTo 判断是否绑定到给定机器人
func (s *Session) BoundTo(robotID uint) bool { return s.robotID == robotID }

// Rename 重命名
func (s *Session) Rename(title string) {
	if title != "" {
		s.title = title
		s.updatedAt = time.Now()
	}
}

// AutoTitle 用首条用户消息生成标题: 超过 50 字符截断加省略号
// 仅在标题仍是默认值时生效
func (s *Session) AutoTitle(content string) {
	if s.title != "" && s.title != "新会话" {
		return
	}
	runes := []rune(content)
	if len(runes) > sessionTitleRunes {
		s.title = string(runes[:sessionTitleRunes]) + "..."
	} else if len(runes) > 0 {
		s.title = content
	}
	s.updatedAt = time.Now()
}

// Pin 置顶
func (s *Session) Pin() {
	s.isPinned = true
	s.updatedAt = time.Now()
}

// Unpin 取消置顶
func (s *Session) Unpin() {
	s.isPinned = false
	s.updatedAt = time.Now()
}

// Archive 归档, 归档会话不再接受新消息
func (s *Session) Archive() error {
	if s.status == SessionStatusDeleted {
		return ErrSessionNotActive
	}
	s.status = SessionStatusArchived
	s.updatedAt = time.Now()
	return nil
}

// Activate 恢复为活跃
func (s *Session) Activate() error {
	if s.status == SessionStatusDeleted {
		return ErrSessionNotActive
	}
	s.status = SessionStatusActive
	s.updatedAt = time.Now()
	return nil
}

// MarkDeleted 软删除
func (s *Session) MarkDeleted() {
	s.status = SessionStatusDeleted
	s.updatedAt = time.Now()
}

// RecordMessage 记录一条新消息到达: 计数 +1, 刷新最近消息时间
func (s *Session) RecordMessage(at time.Time) {
	s.messageCount++
	s.lastMessageAt = &at
	s.updatedAt = at
}

// InactiveSince 判断最近消息时间是否早于给定时刻(无消息时用创建时间)
func (s *Session) InactiveSince(cutoff time.Time) bool {
	if s.lastMessageAt != nil {
		return s.lastMessageAt.Before(cutoff)
	}
	return s.createdAt.Before(cutoff)
}
