package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// SessionView 会话视图
type SessionView struct {
	ID            string     `json:"id"`
	RobotID       uint       `json:"robot_id"`
	Title         string     `json:"title"`
	MessageCount  int        `json:"message_count"`
	Status        string     `json:"status"`
	IsPinned      bool       `json:"is_pinned"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toSessionView(s *entity.Session) SessionView {
	return SessionView{
		ID:            s.ID(),
		RobotID:       s.RobotID(),
		Title:         s.Title(),
		MessageCount:  s.MessageCount(),
		Status:        s.Status(),
		IsPinned:      s.IsPinned(),
		LastMessageAt: s.LastMessageAt(),
		CreatedAt:     s.CreatedAt(),
	}
}

// MessageView 消息视图
type MessageView struct {
	MessageID         string                       `json:"message_id"`
	Sequence          int                          `json:"sequence"`
	Role              string                       `json:"role"`
	Content           string                       `json:"content"`
	RetrievedContexts []valueobject.RetrievedChunk `json:"retrieved_contexts,omitempty"`
	TokenUsage        valueobject.TokenUsage       `json:"token_usage"`
	RetrievalTimeMS   float64                      `json:"retrieval_time_ms,omitempty"`
	GenerationTimeMS  float64                      `json:"generation_time_ms,omitempty"`
	TotalTimeMS       float64                      `json:"total_time_ms,omitempty"`
	Feedback          int                          `json:"feedback"`
	CreatedAt         time.Time                    `json:"created_at"`
}

func toMessageView(m *entity.ChatMessage) MessageView {
	return MessageView{
		MessageID:         m.MessageID(),
		Sequence:          m.Sequence(),
		Role:              m.Role(),
		Content:           m.Content(),
		RetrievedContexts: m.RetrievedContexts(),
		TokenUsage: valueobject.TokenUsage{
			PromptTokens:     m.PromptTokens(),
			CompletionTokens: m.CompletionTokens(),
			TotalTokens:      m.TotalTokens(),
		},
		RetrievalTimeMS:  m.RetrievalTimeMS(),
		GenerationTimeMS: m.GenerationTimeMS(),
		TotalTimeMS:      m.TotalTimeMS(),
		Feedback:         m.Feedback(),
		CreatedAt:        m.CreatedAt(),
	}
}

// UpdateSessionInput 更新会话请求
type UpdateSessionInput struct {
	Title    string `json:"title"`
	IsPinned *bool  `json:"is_pinned"`
	Status   string `json:"status"` // active / archived
}

// FeedbackInput 消息反馈请求
type FeedbackInput struct {
	MessageID string `json:"message_id" binding:"required"`
	Feedback  int    `json:"feedback"`
	Comment   string `json:"comment"`
}

// SessionUseCase 会话管理
// 业务删除一律软删; 归档与删除同时清掉缓存窗口与活跃集
type SessionUseCase struct {
	sessions repository.SessionRepository
	history  repository.ChatHistoryRepository
	robots   repository.RobotRepository
	contexts *service.ContextManager
	logger   *zap.Logger
}

// NewSessionUseCase 创建会话用例
func NewSessionUseCase(
	sessions repository.SessionRepository,
	history repository.ChatHistoryRepository,
	robots repository.RobotRepository,
	contexts *service.ContextManager,
	logger *zap.Logger,
) *SessionUseCase {
	return &SessionUseCase{
		sessions: sessions,
		history:  history,
		robots:   robots,
		contexts: contexts,
		logger:   logger.Named("session"),
	}
}

// Create 创建会话并初始化缓存上下文
func (uc *SessionUseCase) Create(ctx context.Context, userID, robotID uint, title string) (*SessionView, error) {
	robot, err := uc.robots.FindByID(ctx, robotID)
	if err != nil {
		return nil, err
	}
	if !robot.OwnedBy(userID) {
		return nil, apperrors.NewForbiddenError("无权使用该机器人")
	}

	session, err := entity.NewSession(uuid.NewString(), userID, robotID, title)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := uc.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	if err := uc.contexts.InitContext(ctx, session.ID(), userID, robotID, robot.SystemPrompt()); err != nil {
		uc.logger.Warn("failed to init session context cache",
			zap.String("session_id", session.ID()), zap.Error(err))
	}
	view := toSessionView(session)
	return &view, nil
}

// List 分页列出用户会话, 置顶在前
func (uc *SessionUseCase) List(ctx context.Context, userID uint, status string, limit, offset int) ([]SessionView, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sessions, err := uc.sessions.FindByUserID(ctx, userID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := uc.sessions.CountByUserID(ctx, userID, status)
	if err != nil {
		return nil, 0, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	return views, total, nil
}

// Get 查看会话详情
func (uc *SessionUseCase) Get(ctx context.Context, userID uint, sessionID string) (*SessionView, error) {
	session, err := uc.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	view := toSessionView(session)
	return &view, nil
}

// History 按序号升序分页返回会话消息
func (uc *SessionUseCase) History(ctx context.Context, userID uint, sessionID string, limit, offset int) ([]MessageView, error) {
	if _, err := uc.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, err := uc.history.FindBySessionID(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageView(m))
	}
	return views, nil
}

// Update 更新标题/置顶/状态; 归档会顺带清空缓存窗口
func (uc *SessionUseCase) Update(ctx context.Context, userID uint, sessionID string, in UpdateSessionInput) (*SessionView, error) {
	session, err := uc.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if in.Title != "" {
		session.Rename(in.Title)
	}
	if in.IsPinned != nil {
		if *in.IsPinned {
			session.Pin()
		} else {
			session.Unpin()
		}
	}
	switch in.Status {
	case "":
	case entity.SessionStatusArchived:
		if err := session.Archive(); err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		uc.dropCache(ctx, session)
	case entity.SessionStatusActive:
		if err := session.Activate(); err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
	default:
		return nil, apperrors.NewInvalidInputError("不支持的会话状态: " + in.Status)
	}
	if err := uc.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	view := toSessionView(session)
	return &view, nil
}

// Delete 软删会话并清理缓存
func (uc *SessionUseCase) Delete(ctx context.Context, userID uint, sessionID string) error {
	session, err := uc.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	session.MarkDeleted()
	if err := uc.sessions.Save(ctx, session); err != nil {
		return err
	}
	uc.dropCache(ctx, session)
	return nil
}

// Feedback 赞/踩某条消息, 只能操作自己会话里的消息
func (uc *SessionUseCase) Feedback(ctx context.Context, userID uint, in FeedbackInput) error {
	if in.Feedback != entity.FeedbackDown && in.Feedback != entity.FeedbackNone && in.Feedback != entity.FeedbackUp {
		return apperrors.NewInvalidInputError("反馈取值只能是 -1/0/1")
	}
	if len([]rune(in.Comment)) > 500 {
		return apperrors.NewInvalidInputError("评论不能超过 500 字")
	}
	msg, err := uc.history.FindByID(ctx, in.MessageID)
	if err != nil {
		return err
	}
	if _, err := uc.ownedSession(ctx, userID, msg.SessionID()); err != nil {
		return err
	}
	return uc.history.UpdateFeedback(ctx, in.MessageID, in.Feedback)
}

// ArchiveInactive 把超过 archiveDays 没有新消息的活跃会话批量归档
// 由服务进程内的小时级定时器驱动
func (uc *SessionUseCase) ArchiveInactive(ctx context.Context, archiveDays int) (int, error) {
	if archiveDays <= 0 {
		archiveDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -archiveDays).Unix()
	sessions, err := uc.sessions.FindInactiveSince(ctx, cutoff, 500)
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, s := range sessions {
		if err := s.Archive(); err != nil {
			continue
		}
		if err := uc.sessions.Save(ctx, s); err != nil {
			uc.logger.Warn("failed to archive session",
				zap.String("session_id", s.ID()), zap.Error(err))
			continue
		}
		uc.dropCache(ctx, s)
		archived++
	}
	if archived > 0 {
		uc.logger.Info("inactive sessions archived", zap.Int("count", archived))
	}
	return archived, nil
}

// StartArchiver 启动归档定时器, 阻塞到 ctx 取消
func (uc *SessionUseCase) StartArchiver(ctx context.Context, interval time.Duration, archiveDays int) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := uc.ArchiveInactive(ctx, archiveDays); err != nil {
				uc.logger.Error("session archival sweep failed", zap.Error(err))
			}
		}
	}
}

func (uc *SessionUseCase) dropCache(ctx context.Context, session *entity.Session) {
	if err := uc.contexts.ClearContext(ctx, session.ID(), session.UserID()); err != nil {
		uc.logger.Warn("failed to clear session cache",
			zap.String("session_id", session.ID()), zap.Error(err))
	}
}

func (uc *SessionUseCase) ownedSession(ctx context.Context, userID uint, sessionID string) (*entity.Session, error) {
	session, err := uc.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status() == entity.SessionStatusDeleted {
		return nil, apperrors.NewNotFoundError("会话不存在")
	}
	if !session.OwnedBy(userID) {
		return nil, apperrors.NewForbiddenError("无权访问该会话")
	}
	return session, nil
}
