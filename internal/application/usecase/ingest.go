package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/bus"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/monitoring"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/parser"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/storage"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// IngestUseCase 入库流水线的三个阶段处理器
// 每个阶段消费一个主题、生产下一个; 投递语义 at-least-once,
// 处理器按 document_id 幂等. 业务性失败置 failed 后吞掉消息,
// 基础设施错误原样返回触发重投
type IngestUseCase struct {
	documents  repository.DocumentRepository
	knowledges repository.KnowledgeRepository
	files      storage.FileStore
	dispatcher *parser.Dispatcher
	embedders  service.EmbedderResolver
	vectors    service.VectorStore
	index      service.ChunkIndex
	queue      bus.Bus

	embedBatchSize      int
	defaultChunkSize    int
	defaultChunkOverlap int

	monitor *monitoring.Monitor
	logger  *zap.Logger
}

// NewIngestUseCase 创建流水线用例
func NewIngestUseCase(
	documents repository.DocumentRepository,
	knowledges repository.KnowledgeRepository,
	files storage.FileStore,
	dispatcher *parser.Dispatcher,
	embedders service.EmbedderResolver,
	vectors service.VectorStore,
	index service.ChunkIndex,
	queue bus.Bus,
	embedBatchSize, defaultChunkSize, defaultChunkOverlap int,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
) *IngestUseCase {
	if embedBatchSize <= 0 {
		embedBatchSize = 16
	}
	if defaultChunkSize <= 0 {
		defaultChunkSize = 500
	}
	if defaultChunkOverlap < 0 {
		defaultChunkOverlap = 50
	}
	return &IngestUseCase{
		documents:           documents,
		knowledges:          knowledges,
		files:               files,
		dispatcher:          dispatcher,
		embedders:           embedders,
		vectors:             vectors,
		index:               index,
		queue:               queue,
		embedBatchSize:      embedBatchSize,
		defaultChunkSize:    defaultChunkSize,
		defaultChunkOverlap: defaultChunkOverlap,
		monitor:             monitor,
		logger:              logger.Named("ingest"),
	}
}

// HandleUpload 解析阶段: doc.upload → 文本 → doc.parsed
func (uc *IngestUseCase) HandleUpload(ctx context.Context, payload []byte) error {
	var msg bus.DocUploadMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		uc.logger.Error("malformed doc.upload payload dropped", zap.Error(err))
		return nil
	}
	doc, ok, err := uc.liveDocument(ctx, msg.DocumentID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := uc.transition(ctx, doc, entity.DocStatusParsing); err != nil {
		return err
	}

	absPath, err := uc.files.AbsPath(msg.FilePath)
	if err != nil {
		return uc.failDocument(ctx, msg.DocumentID, "文件路径无效: "+err.Error())
	}
	ext := strings.ToLower(filepath.Ext(msg.FileName))
	content, err := uc.dispatcher.Parse(ctx, absPath, ext)
	if err != nil {
		return uc.failDocument(ctx, msg.DocumentID, "解析失败: "+err.Error())
	}
	if strings.TrimSpace(content) == "" {
		return uc.failDocument(ctx, msg.DocumentID, "解析结果为空")
	}

	next, err := json.Marshal(bus.DocParsedMessage{
		DocumentID:  msg.DocumentID,
		Content:     content,
		KnowledgeID: msg.KnowledgeID,
		FileName:    msg.FileName,
	})
	if err != nil {
		return err
	}
	if err := uc.queue.Publish(ctx, bus.TopicDocParsed, next); err != nil {
		return err
	}
	uc.monitor.IncDocParsed()
	uc.logger.Info("document parsed",
		zap.Uint("document_id", msg.DocumentID),
		zap.String("file_name", msg.FileName),
		zap.Int("chars", len(content)))
	return nil
}

// HandleParsed 切分阶段: doc.parsed → 分块 → doc.chunks
// 切分参数取知识库行, 缺省回退全局默认
func (uc *IngestUseCase) HandleParsed(ctx context.Context, payload []byte) error {
	var msg bus.DocParsedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		uc.logger.Error("malformed doc.parsed payload dropped", zap.Error(err))
		return nil
	}
	doc, ok, err := uc.liveDocument(ctx, msg.DocumentID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := uc.transition(ctx, doc, entity.DocStatusSplitting); err != nil {
		return err
	}

	chunkSize, chunkOverlap := uc.defaultChunkSize, uc.defaultChunkOverlap
	if kb, err := uc.knowledges.FindByID(ctx, msg.KnowledgeID); err == nil {
		if kb.ChunkSize() > 0 {
			chunkSize = kb.ChunkSize()
		}
		if kb.ChunkOverlap() >= 0 {
			chunkOverlap = kb.ChunkOverlap()
		}
	} else if !apperrors.IsNotFound(err) {
		return err
	}

	pieces := service.NewSplitter(chunkSize, chunkOverlap).Split(msg.Content)
	if len(pieces) == 0 {
		return uc.failDocument(ctx, msg.DocumentID, "切分结果为空")
	}

	chunks := make([]valueobject.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, valueobject.Chunk{
			ChunkID:     valueobject.NewChunkID(msg.DocumentID, i),
			DocumentID:  msg.DocumentID,
			KnowledgeID: msg.KnowledgeID,
			ChunkIndex:  i,
			Content:     piece,
			FileName:    msg.FileName,
			Heading:     leadingHeading(piece),
		})
	}

	next, err := json.Marshal(bus.DocChunksMessage{
		DocumentID:  msg.DocumentID,
		Chunks:      chunks,
		KnowledgeID: msg.KnowledgeID,
		FileName:    msg.FileName,
	})
	if err != nil {
		return err
	}
	if err := uc.queue.Publish(ctx, bus.TopicDocChunks, next); err != nil {
		return err
	}
	uc.monitor.IncDocSplit()
	uc.logger.Info("document split",
		zap.Uint("document_id", msg.DocumentID),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", chunkSize))
	return nil
}

// HandleChunks 向量化阶段: doc.chunks → Milvus + ES → completed
// 先删旧后写新保证按 document_id 重放幂等; 任一写入失败或文档已被删除时
// 对两个存储做补偿删除
func (uc *IngestUseCase) HandleChunks(ctx context.Context, payload []byte) error {
	var msg bus.DocChunksMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		uc.logger.Error("malformed doc.chunks payload dropped", zap.Error(err))
		return nil
	}

	kb, err := uc.knowledges.FindByID(ctx, msg.KnowledgeID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			uc.logger.Warn("knowledge gone before vectorizing, message dropped",
				zap.Uint("document_id", msg.DocumentID))
			return nil
		}
		return err
	}
	collection := kb.VectorCollectionName()

	doc, ok, err := uc.liveDocument(ctx, msg.DocumentID)
	if err != nil {
		return err
	}
	if !ok {
		uc.compensate(ctx, collection, msg.DocumentID)
		return nil
	}
	if err := uc.transition(ctx, doc, entity.DocStatusEmbedding); err != nil {
		return err
	}

	embedder, err := uc.embedders.EmbedderFor(ctx, kb.EmbedLLMID())
	if err != nil {
		return uc.failDocument(ctx, msg.DocumentID, "向量化模型不可用: "+err.Error())
	}
	if err := uc.embedChunks(ctx, embedder, msg.Chunks); err != nil {
		uc.compensate(ctx, collection, msg.DocumentID)
		return uc.failDocument(ctx, msg.DocumentID, "向量化失败: "+err.Error())
	}

	// 重放场景先清掉上一次的残留
	uc.compensate(ctx, collection, msg.DocumentID)

	if err := uc.vectors.InsertVectors(ctx, collection, msg.Chunks); err != nil {
		uc.compensate(ctx, collection, msg.DocumentID)
		return uc.failDocument(ctx, msg.DocumentID, "向量写入失败: "+err.Error())
	}
	if err := uc.index.IndexChunks(ctx, msg.Chunks); err != nil {
		uc.compensate(ctx, collection, msg.DocumentID)
		return uc.failDocument(ctx, msg.DocumentID, "索引写入失败: "+err.Error())
	}

	// 写入期间文档可能被删除, 复查一次并补偿
	if _, ok, err := uc.liveDocument(ctx, msg.DocumentID); err != nil {
		return err
	} else if !ok {
		uc.compensate(ctx, collection, msg.DocumentID)
		return nil
	}

	doc.SetChunkCount(len(msg.Chunks))
	if err := doc.TransitionTo(entity.DocStatusCompleted); err != nil {
		return uc.failDocument(ctx, msg.DocumentID, err.Error())
	}
	if err := uc.documents.Save(ctx, doc); err != nil {
		return err
	}
	if err := uc.refreshCounters(ctx, kb.ID()); err != nil {
		uc.logger.Warn("failed to refresh knowledge counters",
			zap.Uint("knowledge_id", kb.ID()), zap.Error(err))
	}
	uc.monitor.IncDocEmbedded()
	uc.logger.Info("document embedded",
		zap.Uint("document_id", msg.DocumentID),
		zap.Int("chunks", len(msg.Chunks)),
		zap.String("collection", collection))
	return nil
}

// embedChunks 分批向量化, 向量直接挂回分块
func (uc *IngestUseCase) embedChunks(ctx context.Context, embedder service.Embedder, chunks []valueobject.Chunk) error {
	for start := 0; start < len(chunks); start += uc.embedBatchSize {
		end := start + uc.embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for i := range vectors {
			chunks[start+i].Vector = vectors[i]
		}
	}
	return nil
}

// compensate 按 document_id 从两个存储清除分块, 失败只记日志
func (uc *IngestUseCase) compensate(ctx context.Context, collection string, documentID uint) {
	if err := uc.vectors.DeleteByDocument(ctx, collection, documentID); err != nil {
		uc.logger.Warn("failed to purge vectors",
			zap.Uint("document_id", documentID), zap.Error(err))
	}
	if err := uc.index.DeleteByDocument(ctx, documentID); err != nil {
		uc.logger.Warn("failed to purge inverted index",
			zap.Uint("document_id", documentID), zap.Error(err))
	}
}

// refreshCounters 聚合重算知识库的文档数与分块数
func (uc *IngestUseCase) refreshCounters(ctx context.Context, knowledgeID uint) error {
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

// liveDocument 加载文档; 已删除的在途消息返回 ok=false
func (uc *IngestUseCase) liveDocument(ctx context.Context, id uint) (*entity.Document, bool, error) {
	doc, err := uc.documents.FindByID(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			uc.logger.Info("document gone, in-flight message dropped", zap.Uint("document_id", id))
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc, true, nil
}

func (uc *IngestUseCase) transition(ctx context.Context, doc *entity.Document, status string) error {
	if err := doc.TransitionTo(status); err != nil {
		// 重放消息撞上更晚的状态, 不回退
		uc.logger.Warn("status transition skipped",
			zap.Uint("document_id", doc.ID()),
			zap.String("from", doc.Status()),
			zap.String("to", status))
		return nil
	}
	return uc.documents.UpdateStatus(ctx, doc.ID(), status, "")
}

// failDocument 置 failed 并吞掉消息(业务性失败不重投)
func (uc *IngestUseCase) failDocument(ctx context.Context, id uint, reason string) error {
	uc.monitor.IncDocFailed()
	uc.logger.Error("document ingestion failed",
		zap.Uint("document_id", id), zap.String("reason", reason))
	if err := uc.documents.UpdateStatus(ctx, id, entity.DocStatusFailed, reason); err != nil {
		return err
	}
	return nil
}

// leadingHeading 提取分块起始的 Markdown 标题作为索引字段
func leadingHeading(content string) string {
	src := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	node := doc.FirstChild()
	heading, ok := node.(*ast.Heading)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for c := heading.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
		}
	}
	return strings.TrimSpace(sb.String())
}
