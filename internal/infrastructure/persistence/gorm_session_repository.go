package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/persistence/models"
	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// GormSessionRepository GORM 实现的会话仓储
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GORM 会话仓储
func NewGormSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &GormSessionRepository{db: db}
}

// Save 保存会话
func (r *GormSessionRepository) Save(ctx context.Context, session *entity.Session) error {
	model := sessionToModel(session)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save session: " + err.Error())
	}
	return nil
}

// FindByID 根据ID查找会话
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("会话不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find session: " + err.Error())
	}
	return sessionToEntity(&model), nil
}

// FindByUserID 分页查找用户的会话: 置顶优先, 其次最近消息时间倒序
func (r *GormSessionRepository) FindByUserID(ctx context.Context, userID uint, status string, limit, offset int) ([]*entity.Session, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	} else {
		q = q.Where("status <> ?", entity.SessionStatusDeleted)
	}
	var modelList []models.SessionModel
	if err := q.Order("is_pinned DESC").
		Order("last_message_at DESC").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find sessions: " + err.Error())
	}
	out := make([]*entity.Session, 0, len(modelList))
	for i := range modelList {
		out = append(out, sessionToEntity(&modelList[i]))
	}
	return out, nil
}

// CountByUserID 统计用户的会话数量
func (r *GormSessionRepository) CountByUserID(ctx context.Context, userID uint, status string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.SessionModel{}).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	} else {
		q = q.Where("status <> ?", entity.SessionStatusDeleted)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to count sessions: " + err.Error())
	}
	return count, nil
}

// FindInactiveSince 查找最近消息时间早于 cutoff 的活跃会话
// 从未有过消息的会话按创建时间判定
func (r *GormSessionRepository) FindInactiveSince(ctx context.Context, cutoffUnix int64, limit int) ([]*entity.Session, error) {
	cutoff := unixToTime(cutoffUnix)
	var modelList []models.SessionModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", entity.SessionStatusActive).
		Where("(last_message_at IS NOT NULL AND last_message_at < ?) OR (last_message_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Order("last_message_at").
		Limit(limit).
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find inactive sessions: " + err.Error())
	}
	out := make([]*entity.Session, 0, len(modelList))
	for i := range modelList {
		out = append(out, sessionToEntity(&modelList[i]))
	}
	return out, nil
}

func unixToTime(sec int64) time.Time { return time.Unix(sec, 0) }

// Delete 物理删除会话
func (r *GormSessionRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.SessionModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete session: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("会话不存在")
	}
	return nil
}

// GormChatHistoryRepository GORM 实现的对话历史仓储
type GormChatHistoryRepository struct {
	db *gorm.DB
}

// NewGormChatHistoryRepository 创建 GORM 对话历史仓储
func NewGormChatHistoryRepository(db *gorm.DB) repository.ChatHistoryRepository {
	return &GormChatHistoryRepository{db: db}
}

// Save 保存消息, 在同一事务内分配 sequence = 当前条数 + 1
func (r *GormChatHistoryRepository) Save(ctx context.Context, msg *entity.ChatMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ChatMessageModel{}).
			Where("session_id = ?", msg.SessionID()).
			Count(&count).Error; err != nil {
			return err
		}
		msg.SetSequence(int(count) + 1)
		model, err := chatMessageToModel(msg)
		if err != nil {
			return err
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to save chat message: " + err.Error())
	}
	return nil
}

// FindByID 根据消息ID查找
func (r *GormChatHistoryRepository) FindByID(ctx context.Context, messageID string) (*entity.ChatMessage, error) {
	var model models.ChatMessageModel
	if err := r.db.WithContext(ctx).First(&model, "message_id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("消息不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find chat message: " + err.Error())
	}
	return chatMessageToEntity(&model), nil
}

// FindBySessionID 按序号升序分页查找会话消息
func (r *GormChatHistoryRepository) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]*entity.ChatMessage, error) {
	var modelList []models.ChatMessageModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence").
		Limit(limit).Offset(offset).
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find chat messages: " + err.Error())
	}
	out := make([]*entity.ChatMessage, 0, len(modelList))
	for i := range modelList {
		out = append(out, chatMessageToEntity(&modelList[i]))
	}
	return out, nil
}

// FindRecent 查找会话最近 n 条消息, 返回序号升序
func (r *GormChatHistoryRepository) FindRecent(ctx context.Context, sessionID string, n int) ([]*entity.ChatMessage, error) {
	var modelList []models.ChatMessageModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence DESC").
		Limit(n).
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find recent messages: " + err.Error())
	}
	// 倒序取出后反转为升序
	out := make([]*entity.ChatMessage, 0, len(modelList))
	for i := len(modelList) - 1; i >= 0; i-- {
		out = append(out, chatMessageToEntity(&modelList[i]))
	}
	return out, nil
}

// Count 统计会话消息数量
func (r *GormChatHistoryRepository) Count(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ChatMessageModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to count chat messages: " + err.Error())
	}
	return count, nil
}

// UpdateFeedback 更新消息反馈
func (r *GormChatHistoryRepository) UpdateFeedback(ctx context.Context, messageID string, feedback int) error {
	result := r.db.WithContext(ctx).Model(&models.ChatMessageModel{}).
		Where("message_id = ?", messageID).
		Update("feedback", feedback)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to update feedback: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("消息不存在")
	}
	return nil
}

// DeleteBySessionID 删除会话的全部消息
func (r *GormChatHistoryRepository) DeleteBySessionID(ctx context.Context, sessionID string) error {
	if err := r.db.WithContext(ctx).
		Delete(&models.ChatMessageModel{}, "session_id = ?", sessionID).Error; err != nil {
		return domainErrors.NewInternalError("failed to delete chat messages: " + err.Error())
	}
	return nil
}

// 转换方法

func sessionToModel(session *entity.Session) *models.SessionModel {
	return &models.SessionModel{
		ID:            session.ID(),
		UserID:        session.UserID(),
		RobotID:       session.RobotID(),
		Title:         session.Title(),
		MessageCount:  session.MessageCount(),
		Status:        session.Status(),
		IsPinned:      session.IsPinned(),
		LastMessageAt: session.LastMessageAt(),
		CreatedAt:     session.CreatedAt(),
		UpdatedAt:     session.UpdatedAt(),
	}
}

func sessionToEntity(model *models.SessionModel) *entity.Session {
	return entity.ReconstructSession(
		model.ID,
		model.UserID,
		model.RobotID,
		model.Title,
		model.MessageCount,
		model.Status,
		model.IsPinned,
		model.LastMessageAt,
		model.CreatedAt,
		model.UpdatedAt,
	)
}

func chatMessageToModel(msg *entity.ChatMessage) (*models.ChatMessageModel, error) {
	var contextsJSON string
	if contexts := msg.RetrievedContexts(); len(contexts) > 0 {
		data, err := json.Marshal(contexts)
		if err != nil {
			return nil, err
		}
		contextsJSON = string(data)
	}
	return &models.ChatMessageModel{
		MessageID:         msg.MessageID(),
		SessionID:         msg.SessionID(),
		Sequence:          msg.Sequence(),
		Role:              msg.Role(),
		Content:           msg.Content(),
		RetrievedContexts: contextsJSON,
		PromptTokens:      msg.PromptTokens(),
		CompletionTokens:  msg.CompletionTokens(),
		TotalTokens:       msg.TotalTokens(),
		RetrievalTimeMS:   msg.RetrievalTimeMS(),
		GenerationTimeMS:  msg.GenerationTimeMS(),
		TotalTimeMS:       msg.TotalTimeMS(),
		Feedback:          msg.Feedback(),
		CreatedAt:         msg.CreatedAt(),
	}, nil
}

func chatMessageToEntity(model *models.ChatMessageModel) *entity.ChatMessage {
	var contexts []valueobject.RetrievedChunk
	if model.RetrievedContexts != "" {
		// 解析失败按无上下文处理, 不阻断读取
		_ = json.Unmarshal([]byte(model.RetrievedContexts), &contexts)
	}
	msg := entity.ReconstructChatMessage(
		model.MessageID,
		model.SessionID,
		model.Sequence,
		model.Role,
		model.Content,
		contexts,
		model.PromptTokens,
		model.CompletionTokens,
		model.TotalTokens,
		model.Feedback,
		model.CreatedAt,
	)
	msg.SetTimings(model.RetrievalTimeMS, model.GenerationTimeMS, model.TotalTimeMS)
	return msg
}
