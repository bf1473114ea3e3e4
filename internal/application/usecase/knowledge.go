package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/storage"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// KnowledgeView 知识库视图
type KnowledgeView struct {
	ID            uint      `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	EmbedLLMID    uint      `json:"embed_llm_id"`
	ChunkSize     int       `json:"chunk_size"`
	ChunkOverlap  int       `json:"chunk_overlap"`
	DocumentCount int64     `json:"document_count"`
	TotalChunks   int64     `json:"total_chunks"`
	Status        int       `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toKnowledgeView(k *entity.Knowledge) KnowledgeView {
	return KnowledgeView{
		ID:            k.ID(),
		Name:          k.Name(),
		Description:   k.Description(),
		EmbedLLMID:    k.EmbedLLMID(),
		ChunkSize:     k.ChunkSize(),
		ChunkOverlap:  k.ChunkOverlap(),
		DocumentCount: k.DocumentCount(),
		TotalChunks:   k.TotalChunks(),
		Status:        k.Status(),
		CreatedAt:     k.CreatedAt(),
	}
}

// CreateKnowledgeInput 创建知识库请求
type CreateKnowledgeInput struct {
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description"`
	EmbedLLMID   uint   `json:"embed_llm_id"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// UpdateKnowledgeInput 更新知识库请求
// embed_llm_id 不可变更: 已有向量与新模型不兼容
type UpdateKnowledgeInput struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Status       *int   `json:"status"`
}

// KnowledgeUseCase 知识库管理
// 创建时同步建向量 collection; 删除时级联清理文档、两个索引和上传文件
type KnowledgeUseCase struct {
	knowledges repository.KnowledgeRepository
	documents  repository.DocumentRepository
	robots     repository.RobotRepository
	embedders  service.EmbedderResolver
	vectors    service.VectorStore
	index      service.ChunkIndex
	files      storage.FileStore
	logger     *zap.Logger
}

// NewKnowledgeUseCase 创建知识库用例
func NewKnowledgeUseCase(
	knowledges repository.KnowledgeRepository,
	documents repository.DocumentRepository,
	robots repository.RobotRepository,
	embedders service.EmbedderResolver,
	vectors service.VectorStore,
	index service.ChunkIndex,
	files storage.FileStore,
	logger *zap.Logger,
) *KnowledgeUseCase {
	return &KnowledgeUseCase{
		knowledges: knowledges,
		documents:  documents,
		robots:     robots,
		embedders:  embedders,
		vectors:    vectors,
		index:      index,
		files:      files,
		logger:     logger.Named("knowledge"),
	}
}

// Create 创建知识库并建向量 collection
// collection 维度取自绑定的向量化模型, 建库失败时回滚关系行
func (uc *KnowledgeUseCase) Create(ctx context.Context, userID uint, in CreateKnowledgeInput) (*KnowledgeView, error) {
	kb, err := entity.NewKnowledge(userID, in.Name, in.Description, in.EmbedLLMID, in.ChunkSize, in.ChunkOverlap, time.Now())
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	embedder, err := uc.embedders.EmbedderFor(ctx, kb.EmbedLLMID())
	if err != nil {
		return nil, err
	}
	dim, err := embedder.Dimension(ctx)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("探测向量维度失败", err)
	}

	if err := uc.knowledges.Save(ctx, kb); err != nil {
		return nil, err
	}
	if err := uc.vectors.CreateCollection(ctx, kb.VectorCollectionName(), dim, kb.Name()); err != nil {
		if delErr := uc.knowledges.Delete(ctx, kb.ID()); delErr != nil {
			uc.logger.Error("orphan knowledge row after collection failure",
				zap.Uint("knowledge_id", kb.ID()), zap.Error(delErr))
		}
		return nil, apperrors.NewInternalErrorWithCause("创建向量库失败", err)
	}

	uc.logger.Info("knowledge created",
		zap.Uint("knowledge_id", kb.ID()),
		zap.String("collection", kb.VectorCollectionName()),
		zap.Int("dim", dim))
	view := toKnowledgeView(kb)
	return &view, nil
}

// Get 查看知识库, 非本人 403
func (uc *KnowledgeUseCase) Get(ctx context.Context, userID, id uint) (*KnowledgeView, error) {
	kb, err := uc.ownedKnowledge(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	view := toKnowledgeView(kb)
	return &view, nil
}

// List 分页列出用户的知识库
func (uc *KnowledgeUseCase) List(ctx context.Context, userID uint, limit, offset int) ([]KnowledgeView, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	kbs, err := uc.knowledges.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := uc.knowledges.CountByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	views := make([]KnowledgeView, 0, len(kbs))
	for _, kb := range kbs {
		views = append(views, toKnowledgeView(kb))
	}
	return views, total, nil
}

// Update 更新名称/描述/切分参数/启停状态
func (uc *KnowledgeUseCase) Update(ctx context.Context, userID, id uint, in UpdateKnowledgeInput) (*KnowledgeView, error) {
	kb, err := uc.ownedKnowledge(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	kb.Rename(in.Name, in.Description)
	if in.ChunkSize > 0 || in.ChunkOverlap > 0 {
		size, overlap := in.ChunkSize, in.ChunkOverlap
		if size <= 0 {
			size = kb.ChunkSize()
		}
		if in.ChunkOverlap == 0 {
			overlap = kb.ChunkOverlap()
		}
		if err := kb.TuneChunking(size, overlap); err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
	}
	if in.Status != nil {
		if *in.Status == entity.KnowledgeStatusActive {
			kb.Enable()
		} else {
			kb.Disable()
		}
	}
	if err := uc.knowledges.Save(ctx, kb); err != nil {
		return nil, err
	}
	view := toKnowledgeView(kb)
	return &view, nil
}

// Delete 删除知识库
// 仍被机器人引用时拒绝; 级联删除文档行、上传文件、向量 collection 和全文索引
func (uc *KnowledgeUseCase) Delete(ctx context.Context, userID, id uint) error {
	kb, err := uc.ownedKnowledge(ctx, userID, id)
	if err != nil {
		return err
	}
	refs, err := uc.robots.CountByKnowledgeID(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return apperrors.NewInvalidInputError("知识库仍被机器人引用, 请先解除绑定")
	}

	docs, err := uc.documents.FindByKnowledgeID(ctx, id, "", 10000, 0)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := uc.files.Delete(doc.FilePath()); err != nil {
			uc.logger.Warn("failed to remove uploaded file",
				zap.Uint("document_id", doc.ID()), zap.Error(err))
		}
		if err := uc.documents.Delete(ctx, doc.ID()); err != nil {
			return err
		}
	}

	// 索引清理失败不阻断删除, 留日志人工兜底
	if err := uc.vectors.DropCollection(ctx, kb.VectorCollectionName()); err != nil {
		uc.logger.Warn("failed to drop vector collection",
			zap.String("collection", kb.VectorCollectionName()), zap.Error(err))
	}
	if err := uc.index.DeleteByKnowledge(ctx, id); err != nil {
		uc.logger.Warn("failed to purge inverted index",
			zap.Uint("knowledge_id", id), zap.Error(err))
	}

	return uc.knowledges.Delete(ctx, id)
}

func (uc *KnowledgeUseCase) ownedKnowledge(ctx context.Context, userID, id uint) (*entity.Knowledge, error) {
	kb, err := uc.knowledges.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !kb.OwnedBy(userID) {
		return nil, apperrors.NewForbiddenError("无权访问该知识库")
	}
	return kb, nil
}
