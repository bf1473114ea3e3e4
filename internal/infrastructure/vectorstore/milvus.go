package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

const (
	vectorFieldName = "vector"
	ivfNlist        = 1024
	searchNprobe    = 128
	// content_preview 字段上限 2000, 截到 1900 字节留余量
	previewMaxBytes = 1900
)

// Milvus 向量库适配器
// 每个知识库一个 collection; IP 距离归一化为 (d+1)/2
type Milvus struct {
	cli    client.Client
	logger *zap.Logger
}

// NewMilvus 连接 Milvus
func NewMilvus(ctx context.Context, address string, logger *zap.Logger) (*Milvus, error) {
	cli, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("connect milvus at %s: %w", address, err)
	}
	logger.Info("milvus connected", zap.String("address", address))
	return &Milvus{cli: cli, logger: logger.Named("milvus")}, nil
}

var _ service.VectorStore = (*Milvus)(nil)

// Close 断开连接
func (m *Milvus) Close() error {
	return m.cli.Close()
}

// CreateCollection 幂等建 collection、建索引并加载
func (m *Milvus) CreateCollection(ctx context.Context, name string, dim int, description string) error {
	exists, err := m.cli.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(name).
			WithDescription(description).
			WithField(entity.NewField().
				WithName("chunk_id").
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(128).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(vectorFieldName).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(dim))).
			WithField(entity.NewField().
				WithName("document_id").
				WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().
				WithName("chunk_index").
				WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().
				WithName("content_preview").
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(2000))

		if err := m.cli.CreateCollection(ctx, schema, 1); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.IP, ivfNlist)
		if err != nil {
			return fmt.Errorf("build ivf_flat index params: %w", err)
		}
		if err := m.cli.CreateIndex(ctx, name, vectorFieldName, idx, false); err != nil {
			return fmt.Errorf("create index on %s: %w", name, err)
		}
		m.logger.Info("milvus collection created", zap.String("collection", name), zap.Int("dim", dim))
	}

	if err := m.cli.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("load collection %s: %w", name, err)
	}
	return nil
}

// InsertVectors 批量写入分块
func (m *Milvus) InsertVectors(ctx context.Context, name string, chunks []valueobject.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	dim := len(chunks[0].Vector)
	if dim == 0 {
		return fmt.Errorf("insert into %s: chunks carry no vectors", name)
	}

	chunkIDs := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	documentIDs := make([]int64, len(chunks))
	chunkIndices := make([]int64, len(chunks))
	previews := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ChunkID
		vectors[i] = c.Vector
		documentIDs[i] = int64(c.DocumentID)
		chunkIndices[i] = int64(c.ChunkIndex)
		previews[i] = truncateUTF8(c.Content, previewMaxBytes)
	}

	_, err := m.cli.Insert(ctx, name, "",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector(vectorFieldName, dim, vectors),
		entity.NewColumnInt64("document_id", documentIDs),
		entity.NewColumnInt64("chunk_index", chunkIndices),
		entity.NewColumnVarChar("content_preview", previews),
	)
	if err != nil {
		return fmt.Errorf("insert %d chunks into %s: %w", len(chunks), name, err)
	}
	if err := m.cli.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("flush %s: %w", name, err)
	}
	return nil
}

// SearchVectors 近邻检索, documentIDs 非空时按文档过滤
func (m *Milvus) SearchVectors(ctx context.Context, name string, queryVector []float32, topK int, documentIDs []uint) ([]valueobject.RetrievedChunk, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(searchNprobe)
	if err != nil {
		return nil, fmt.Errorf("build search params: %w", err)
	}

	expr := ""
	if len(documentIDs) > 0 {
		ids := make([]string, len(documentIDs))
		for i, id := range documentIDs {
			ids[i] = strconv.FormatUint(uint64(id), 10)
		}
		expr = fmt.Sprintf("document_id in [%s]", strings.Join(ids, ","))
	}

	results, err := m.cli.Search(ctx, name, nil, expr,
		[]string{"chunk_id", "document_id", "chunk_index", "content_preview"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		vectorFieldName, entity.IP, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}

	var out []valueobject.RetrievedChunk
	for _, result := range results {
		docCol := result.Fields.GetColumn("document_id")
		idxCol := result.Fields.GetColumn("chunk_index")
		prevCol := result.Fields.GetColumn("content_preview")
		for i := 0; i < result.ResultCount; i++ {
			chunkID, err := result.IDs.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("read search hit %d: %w", i, err)
			}
			rc := valueobject.RetrievedChunk{
				ChunkID: chunkID,
				Score:   normalizeIP(result.Scores[i]),
				Source:  valueobject.SourceVector,
			}
			if docCol != nil {
				if v, err := docCol.GetAsInt64(i); err == nil {
					rc.DocumentID = uint(v)
				}
			}
			if idxCol != nil {
				if v, err := idxCol.GetAsInt64(i); err == nil {
					rc.ChunkIndex = int(v)
				}
			}
			if prevCol != nil {
				if v, err := prevCol.GetAsString(i); err == nil {
					rc.Content = v
				}
			}
			out = append(out, rc)
		}
	}
	return out, nil
}

// DeleteByDocument 删除某文档的全部向量
func (m *Milvus) DeleteByDocument(ctx context.Context, name string, documentID uint) error {
	expr := fmt.Sprintf("document_id == %d", documentID)
	if err := m.cli.Delete(ctx, name, "", expr); err != nil {
		return fmt.Errorf("delete document %d from %s: %w", documentID, name, err)
	}
	if err := m.cli.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("flush %s: %w", name, err)
	}
	return nil
}

// DropCollection 删除整个 collection, 不存在视为成功
func (m *Milvus) DropCollection(ctx context.Context, name string) error {
	exists, err := m.cli.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		return nil
	}
	if err := m.cli.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	m.logger.Info("milvus collection dropped", zap.String("collection", name))
	return nil
}

// CollectionStats 返回 collection 内实体数, 不存在返回 0
func (m *Milvus) CollectionStats(ctx context.Context, name string) (int64, error) {
	exists, err := m.cli.HasCollection(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		return 0, nil
	}
	stats, err := m.cli.GetCollectionStatistics(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("stats for %s: %w", name, err)
	}
	count, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse row_count %q: %w", stats["row_count"], err)
	}
	return count, nil
}

// normalizeIP 把 IP 距离 [-1,1] 归一化到 [0,1]
func normalizeIP(d float32) float64 {
	s := (float64(d) + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// truncateUTF8 按字节上限截断且不破坏多字节字符
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
