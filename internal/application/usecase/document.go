package usecase

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/bus"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/storage"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// DocumentView 文档视图
type DocumentView struct {
	ID          uint      `json:"id"`
	KnowledgeID uint      `json:"knowledge_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	MimeType    string    `json:"mime_type,omitempty"`
	Status      string    `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
	ErrorMsg    string    `json:"error_msg,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toDocumentView(d *entity.Document) DocumentView {
	return DocumentView{
		ID:          d.ID(),
		KnowledgeID: d.KnowledgeID(),
		FileName:    d.FileName(),
		FileSize:    d.FileSize(),
		MimeType:    d.MimeType(),
		Status:      d.Status(),
		ChunkCount:  d.ChunkCount(),
		ErrorMsg:    d.ErrorMsg(),
		CreatedAt:   d.CreatedAt(),
		UpdatedAt:   d.UpdatedAt(),
	}
}

// DocumentUseCase 文档管理
// 上传落盘后发 doc.upload 进流水线; 媒体文件只存储不解析
type DocumentUseCase struct {
	documents  repository.DocumentRepository
	knowledges repository.KnowledgeRepository
	files      storage.FileStore
	vectors    service.VectorStore
	index      service.ChunkIndex
	queue      bus.Bus
	logger     *zap.Logger
}

// NewDocumentUseCase 创建文档用例
func NewDocumentUseCase(
	documents repository.DocumentRepository,
	knowledges repository.KnowledgeRepository,
	files storage.FileStore,
	vectors service.VectorStore,
	index service.ChunkIndex,
	queue bus.Bus,
	logger *zap.Logger,
) *DocumentUseCase {
	return &DocumentUseCase{
		documents:  documents,
		knowledges: knowledges,
		files:      files,
		vectors:    vectors,
		index:      index,
		queue:      queue,
		logger:     logger.Named("document"),
	}
}

// Upload 接收上传
// 可解析文件发 doc.upload; 媒体文件直接置 completed (chunk_count=0)
func (uc *DocumentUseCase) Upload(ctx context.Context, userID, knowledgeID uint, fileName, mimeType string, r io.Reader) (*DocumentView, error) {
	kb, err := uc.ownedKnowledge(ctx, userID, knowledgeID)
	if err != nil {
		return nil, err
	}
	if !kb.IsActive() {
		return nil, apperrors.NewInvalidInputError("知识库已停用, 不能上传")
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if !entity.AllowedExt(ext) {
		return nil, apperrors.NewInvalidInputError("不支持的文件类型: " + ext)
	}

	relPath, size, err := uc.files.Save(knowledgeID, fileName, r)
	if err != nil {
		return nil, err
	}

	doc, err := entity.NewDocument(knowledgeID, fileName, relPath, mimeType, size)
	if err != nil {
		uc.removeFile(relPath)
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if doc.IsMedia() {
		if err := doc.TransitionTo(entity.DocStatusCompleted); err != nil {
			uc.removeFile(relPath)
			return nil, apperrors.NewInternalError(err.Error())
		}
	}
	if err := uc.documents.Save(ctx, doc); err != nil {
		uc.removeFile(relPath)
		return nil, err
	}

	if !doc.IsMedia() {
		if err := uc.publishUpload(ctx, doc); err != nil {
			doc.Fail("入队失败: " + err.Error())
			if saveErr := uc.documents.Save(ctx, doc); saveErr != nil {
				uc.logger.Error("failed to mark document failed",
					zap.Uint("document_id", doc.ID()), zap.Error(saveErr))
			}
			return nil, apperrors.NewInternalErrorWithCause("文档入队失败", err)
		}
	}

	uc.logger.Info("document uploaded",
		zap.Uint("document_id", doc.ID()),
		zap.Uint("knowledge_id", knowledgeID),
		zap.String("file_name", fileName),
		zap.Int64("size", size))
	view := toDocumentView(doc)
	return &view, nil
}

// List 分页列出知识库下的文档
func (uc *DocumentUseCase) List(ctx context.Context, userID, knowledgeID uint, status string, limit, offset int) ([]DocumentView, int64, error) {
	if _, err := uc.ownedKnowledge(ctx, userID, knowledgeID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	docs, err := uc.documents.FindByKnowledgeID(ctx, knowledgeID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := uc.documents.CountByKnowledgeID(ctx, knowledgeID, status)
	if err != nil {
		return nil, 0, err
	}
	views := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, toDocumentView(d))
	}
	return views, total, nil
}

// Get 查看文档详情
func (uc *DocumentUseCase) Get(ctx context.Context, userID, id uint) (*DocumentView, error) {
	doc, err := uc.ownedDocument(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	view := toDocumentView(doc)
	return &view, nil
}

// Retry 重试失败文档: 重置状态、清除失败原因、重新入队
func (uc *DocumentUseCase) Retry(ctx context.Context, userID, id uint) (*DocumentView, error) {
	doc, err := uc.ownedDocument(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if doc.Status() != entity.DocStatusFailed {
		return nil, apperrors.NewInvalidInputError("只有失败的文档可以重试")
	}
	if err := doc.TransitionTo(entity.DocStatusUploading); err != nil {
		return nil, apperrors.NewInternalError(err.Error())
	}
	if err := uc.documents.Save(ctx, doc); err != nil {
		return nil, err
	}
	if err := uc.publishUpload(ctx, doc); err != nil {
		return nil, apperrors.NewInternalErrorWithCause("文档入队失败", err)
	}
	view := toDocumentView(doc)
	return &view, nil
}

// Preview 打开原始文件用于流式下载
func (uc *DocumentUseCase) Preview(ctx context.Context, userID, id uint) (io.ReadSeekCloser, *DocumentView, error) {
	doc, err := uc.ownedDocument(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := uc.files.Open(doc.FilePath())
	if err != nil {
		return nil, nil, err
	}
	view := toDocumentView(doc)
	return f, &view, nil
}

// Delete 删除文档: 文件、两个索引、关系行, 再重算知识库计数
// 流水线对已删文档的在途消息靠幂等补偿收尾
func (uc *DocumentUseCase) Delete(ctx context.Context, userID, id uint) error {
	doc, err := uc.ownedDocument(ctx, userID, id)
	if err != nil {
		return err
	}
	kb, err := uc.knowledges.FindByID(ctx, doc.KnowledgeID())
	if err != nil {
		return err
	}

	if err := uc.files.Delete(doc.FilePath()); err != nil {
		uc.logger.Warn("failed to remove uploaded file",
			zap.Uint("document_id", id), zap.Error(err))
	}
	if err := uc.vectors.DeleteByDocument(ctx, kb.VectorCollectionName(), id); err != nil {
		uc.logger.Warn("failed to purge vectors",
			zap.Uint("document_id", id), zap.Error(err))
	}
	if err := uc.index.DeleteByDocument(ctx, id); err != nil {
		uc.logger.Warn("failed to purge inverted index",
			zap.Uint("document_id", id), zap.Error(err))
	}
	if err := uc.documents.Delete(ctx, id); err != nil {
		return err
	}
	return uc.refreshKnowledgeCounters(ctx, kb.ID())
}

// refreshKnowledgeCounters 按文档聚合重算知识库计数
func (uc *DocumentUseCase) refreshKnowledgeCounters(ctx context.Context, knowledgeID uint) error {
	kb, err := uc.knowledges.FindByID(ctx, knowledgeID)
	if err != nil {
		return err
	}
	docCount, err := uc.documents.CountByKnowledgeID(ctx, knowledgeID, "")
	if err != nil {
		return err
	}
	chunks, err := uc.documents.SumChunksByKnowledgeID(ctx, knowledgeID)
	if err != nil {
		return err
	}
	kb.SetCounters(docCount, chunks)
	return uc.knowledges.Save(ctx, kb)
}

func (uc *DocumentUseCase) publishUpload(ctx context.Context, doc *entity.Document) error {
	payload, err := json.Marshal(bus.DocUploadMessage{
		DocumentID:  doc.ID(),
		FilePath:    doc.FilePath(),
		FileName:    doc.FileName(),
		KnowledgeID: doc.KnowledgeID(),
	})
	if err != nil {
		return err
	}
	return uc.queue.Publish(ctx, bus.TopicDocUpload, payload)
}

func (uc *DocumentUseCase) removeFile(relPath string) {
	if err := uc.files.Delete(relPath); err != nil {
		uc.logger.Warn("failed to clean up uploaded file", zap.String("path", relPath), zap.Error(err))
	}
}

func (uc *DocumentUseCase) ownedKnowledge(ctx context.Context, userID, knowledgeID uint) (*entity.Knowledge, error) {
	kb, err := uc.knowledges.FindByID(ctx, knowledgeID)
	if err != nil {
		return nil, err
	}
	if !kb.OwnedBy(userID) {
		return nil, apperrors.NewForbiddenError("无权访问该知识库")
	}
	return kb, nil
}

func (uc *DocumentUseCase) ownedDocument(ctx context.Context, userID, id uint) (*entity.Document, error) {
	doc, err := uc.documents.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := uc.ownedKnowledge(ctx, userID, doc.KnowledgeID()); err != nil {
		return nil, err
	}
	return doc, nil
}
