package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/persistence/models"
	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// GormRobotRepository GORM 实现的机器人仓储
// 知识库关联在同一事务里全量重建
type GormRobotRepository struct {
	db *gorm.DB
}

// NewGormRobotRepository 创建 GORM 机器人仓储
func NewGormRobotRepository(db *gorm.DB) repository.RobotRepository {
	return &GormRobotRepository{db: db}
}

// Save 保存机器人, 含知识库关联的全量重建
func (r *GormRobotRepository) Save(ctx context.Context, robot *entity.Robot) error {
	model := robotToModel(robot)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(model).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.RobotKnowledgeModel{}, "robot_id = ?", model.ID).Error; err != nil {
			return err
		}
		ids := robot.KnowledgeIDs()
		if len(ids) == 0 {
			return nil
		}
		links := make([]models.RobotKnowledgeModel, 0, len(ids))
		for _, kid := range ids {
			links = append(links, models.RobotKnowledgeModel{RobotID: model.ID, KnowledgeID: kid})
		}
		return tx.Create(&links).Error
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to save robot: " + err.Error())
	}
	robot.SetID(model.ID)
	return nil
}

// FindByID 根据ID查找机器人(含知识库关联)
func (r *GormRobotRepository) FindByID(ctx context.Context, id uint) (*entity.Robot, error) {
	var model models.RobotModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("机器人不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find robot: " + err.Error())
	}
	knowledgeIDs, err := r.knowledgeIDs(ctx, model.ID)
	if err != nil {
		return nil, err
	}
	return robotToEntity(&model, knowledgeIDs), nil
}

// FindByUserID 分页查找用户的机器人
func (r *GormRobotRepository) FindByUserID(ctx context.Context, userID uint, limit, offset int) ([]*entity.Robot, error) {
	var modelList []models.RobotModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find robots: " + err.Error())
	}

	out := make([]*entity.Robot, 0, len(modelList))
	for i := range modelList {
		knowledgeIDs, err := r.knowledgeIDs(ctx, modelList[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, robotToEntity(&modelList[i], knowledgeIDs))
	}
	return out, nil
}

// CountByUserID 统计用户的机器人数量
func (r *GormRobotRepository) CountByUserID(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.RobotModel{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to count robots: " + err.Error())
	}
	return count, nil
}

// CountByKnowledgeID 统计引用某知识库的机器人数量
func (r *GormRobotRepository) CountByKnowledgeID(ctx context.Context, knowledgeID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.RobotKnowledgeModel{}).
		Where("knowledge_id = ?", knowledgeID).
		Count(&count).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to count robot links: " + err.Error())
	}
	return count, nil
}

// Delete 删除机器人(级联删除关联)
func (r *GormRobotRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.RobotModel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Delete(&models.RobotKnowledgeModel{}, "robot_id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainErrors.NewNotFoundError("机器人不存在")
	}
	if err != nil {
		return domainErrors.NewInternalError("failed to delete robot: " + err.Error())
	}
	return nil
}

func (r *GormRobotRepository) knowledgeIDs(ctx context.Context, robotID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.RobotKnowledgeModel{}).
		Where("robot_id = ?", robotID).
		Order("knowledge_id").
		Pluck("knowledge_id", &ids).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find robot links: " + err.Error())
	}
	return ids, nil
}

// 转换方法

func robotToModel(robot *entity.Robot) *models.RobotModel {
	return &models.RobotModel{
		ID:           robot.ID(),
		UserID:       robot.UserID(),
		Name:         robot.Name(),
		Description:  robot.Description(),
		ChatLLMID:    robot.ChatLLMID(),
		RerankLLMID:  robot.RerankLLMID(),
		EnableRerank: robot.EnableRerank(),
		TopK:         robot.TopK(),
		Temperature:  robot.Temperature(),
		MaxTokens:    robot.MaxTokens(),
		SystemPrompt: robot.SystemPrompt(),
		CreatedAt:    robot.CreatedAt(),
		UpdatedAt:    robot.UpdatedAt(),
	}
}

func robotToEntity(model *models.RobotModel, knowledgeIDs []uint) *entity.Robot {
	return entity.ReconstructRobot(
		model.ID,
		model.UserID,
		model.Name,
		model.Description,
		model.ChatLLMID,
		model.RerankLLMID,
		model.EnableRerank,
		model.TopK,
		model.Temperature,
		model.MaxTokens,
		model.SystemPrompt,
		knowledgeIDs,
		model.CreatedAt,
		model.UpdatedAt,
	)
}
