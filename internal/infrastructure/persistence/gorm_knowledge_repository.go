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

// GormKnowledgeRepository GORM 实现的知识库仓储
type GormKnowledgeRepository struct {
	db *gorm.DB
}

// NewGormKnowledgeRepository 创建 GORM 知识库仓储
func NewGormKnowledgeRepository(db *gorm.DB) repository.KnowledgeRepository {
	return &GormKnowledgeRepository{db: db}
}

// Save 保存知识库
func (r *GormKnowledgeRepository) Save(ctx context.Context, kb *entity.Knowledge) error {
	model := knowledgeToModel(kb)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save knowledge: " + err.Error())
	}
	kb.SetID(model.ID)
	return nil
}

// FindByID 根据ID查找知识库
func (r *GormKnowledgeRepository) FindByID(ctx context.Context, id uint) (*entity.Knowledge, error) {
	var model models.KnowledgeModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("知识库不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find knowledge: " + err.Error())
	}
	return knowledgeToEntity(&model), nil
}

// FindByUserID 分页查找用户的知识库
func (r *GormKnowledgeRepository) FindByUserID(ctx context.Context, userID uint, limit, offset int) ([]*entity.Knowledge, error) {
	var modelList []models.KnowledgeModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find knowledge list: " + err.Error())
	}
	out := make([]*entity.Knowledge, 0, len(modelList))
	for i := range modelList {
		out = append(out, knowledgeToEntity(&modelList[i]))
	}
	return out, nil
}

// FindByIDs 批量查找知识库
func (r *GormKnowledgeRepository) FindByIDs(ctx context.Context, ids []uint) ([]*entity.Knowledge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var modelList []models.KnowledgeModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find knowledge list: " + err.Error())
	}
	out := make([]*entity.Knowledge, 0, len(modelList))
	for i := range modelList {
		out = append(out, knowledgeToEntity(&modelList[i]))
	}
	return out, nil
}

// CountByUserID 统计用户的知识库数量
func (r *GormKnowledgeRepository) CountByUserID(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.KnowledgeModel{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to count knowledge: " + err.Error())
	}
	return count, nil
}

// Delete 删除知识库
func (r *GormKnowledgeRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.KnowledgeModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete knowledge: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("知识库不存在")
	}
	return nil
}

// GormDocumentRepository GORM 实现的文档仓储
type GormDocumentRepository struct {
	db *gorm.DB
}

// NewGormDocumentRepository 创建 GORM 文档仓储
func NewGormDocumentRepository(db *gorm.DB) repository.DocumentRepository {
	return &GormDocumentRepository{db: db}
}

// Save 保存文档
func (r *GormDocumentRepository) Save(ctx context.Context, doc *entity.Document) error {
	model := documentToModel(doc)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save document: " + err.Error())
	}
	doc.SetID(model.ID)
	return nil
}

// FindByID 根据ID查找文档
func (r *GormDocumentRepository) FindByID(ctx context.Context, id uint) (*entity.Document, error) {
	var model models.DocumentModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("文档不存在")
		}
		return nil, domainErrors.NewInternalError("failed to find document: " + err.Error())
	}
	return documentToEntity(&model), nil
}

// FindByKnowledgeID 分页查找知识库下的文档
func (r *GormDocumentRepository) FindByKnowledgeID(ctx context.Context, knowledgeID uint, status string, limit, offset int) ([]*entity.Document, error) {
	q := r.db.WithContext(ctx).Where("knowledge_id = ?", knowledgeID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var modelList []models.DocumentModel
	if err := q.Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to find documents: " + err.Error())
	}
	out := make([]*entity.Document, 0, len(modelList))
	for i := range modelList {
		out = append(out, documentToEntity(&modelList[i]))
	}
	return out, nil
}

// CountByKnowledgeID 统计知识库下的文档数
func (r *GormDocumentRepository) CountByKnowledgeID(ctx context.Context, knowledgeID uint, status string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.DocumentModel{}).Where("knowledge_id = ?", knowledgeID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to count documents: " + err.Error())
	}
	return count, nil
}

// SumChunksByKnowledgeID 聚合知识库下已完成文档的分块总数
func (r *GormDocumentRepository) SumChunksByKnowledgeID(ctx context.Context, knowledgeID uint) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.DocumentModel{}).
		Where("knowledge_id = ? AND status = ?", knowledgeID, entity.DocStatusCompleted).
		Select("COALESCE(SUM(chunk_count), 0)").
		Scan(&total).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to sum chunks: " + err.Error())
	}
	return total, nil
}

// UpdateStatus 更新文档状态(带失败原因)
func (r *GormDocumentRepository) UpdateStatus(ctx context.Context, id uint, status, errorMsg string) error {
	result := r.db.WithContext(ctx).Model(&models.DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "error_msg": errorMsg})
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to update document status: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("文档不存在")
	}
	return nil
}

// Delete 删除文档
func (r *GormDocumentRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.DocumentModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete document: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("文档不存在")
	}
	return nil
}

// 转换方法

func knowledgeToModel(kb *entity.Knowledge) *models.KnowledgeModel {
	return &models.KnowledgeModel{
		ID:                   kb.ID(),
		UserID:               kb.UserID(),
		Name:                 kb.Name(),
		Description:          kb.Description(),
		EmbedLLMID:           kb.EmbedLLMID(),
		VectorCollectionName: kb.VectorCollectionName(),
		ChunkSize:            kb.ChunkSize(),
		ChunkOverlap:         kb.ChunkOverlap(),
		DocumentCount:        kb.DocumentCount(),
		TotalChunks:          kb.TotalChunks(),
		Status:               kb.Status(),
		CreatedAt:            kb.CreatedAt(),
		UpdatedAt:            kb.UpdatedAt(),
	}
}

func knowledgeToEntity(model *models.KnowledgeModel) *entity.Knowledge {
	return entity.ReconstructKnowledge(
		model.ID,
		model.UserID,
		model.Name,
		model.Description,
		model.EmbedLLMID,
		model.VectorCollectionName,
		model.ChunkSize,
		model.ChunkOverlap,
		model.DocumentCount,
		model.TotalChunks,
		model.Status,
		model.CreatedAt,
		model.UpdatedAt,
	)
}

func documentToModel(doc *entity.Document) *models.DocumentModel {
	return &models.DocumentModel{
		ID:            doc.ID(),
		KnowledgeID:   doc.KnowledgeID(),
		FileName:      doc.FileName(),
		FilePath:      doc.FilePath(),
		FileExtension: doc.FileExtension(),
		FileSize:      doc.FileSize(),
		MimeType:      doc.MimeType(),
		Status:        doc.Status(),
		ChunkCount:    doc.ChunkCount(),
		ErrorMsg:      doc.ErrorMsg(),
		CreatedAt:     doc.CreatedAt(),
		UpdatedAt:     doc.UpdatedAt(),
	}
}

func documentToEntity(model *models.DocumentModel) *entity.Document {
	return entity.ReconstructDocument(
		model.ID,
		model.KnowledgeID,
		model.FileName,
		model.FilePath,
		model.FileExtension,
		model.FileSize,
		model.MimeType,
		model.Status,
		model.ChunkCount,
		model.ErrorMsg,
		model.CreatedAt,
		model.UpdatedAt,
	)
}
