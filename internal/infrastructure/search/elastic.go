package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// DefaultIndexName 分块全文索引名
const DefaultIndexName = "rag_document_chunks"

// Elastic 全文索引适配器
// content 用 ik_max_word 建索引、ik_smart 检索; IK 插件缺失时退回
// standard 分词器并标记降级(中文召回质量下降但服务可用)
type Elastic struct {
	cli      *elasticsearch.Client
	index    string
	degraded atomic.Bool
	logger   *zap.Logger
}

// NewElastic 创建适配器
func NewElastic(addresses []string, username, password, index string, logger *zap.Logger) (*Elastic, error) {
	if index == "" {
		index = DefaultIndexName
	}
	cli, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Elastic{cli: cli, index: index, logger: logger.Named("elastic")}, nil
}

var _ service.ChunkIndex = (*Elastic)(nil)

// Degraded 返回是否运行在降级分词器上
func (e *Elastic) Degraded() bool {
	return e.degraded.Load()
}

// EnsureIndex 幂等建索引
// 建索引前探测 IK 分词器, 不可用则整个 mapping 换用 standard
func (e *Elastic) EnsureIndex(ctx context.Context) error {
	res, err := e.cli.Indices.Exists([]string{e.index}, e.cli.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", e.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		// 已有索引也要校准降级标记, 重启后 Degraded 才准确
		e.degraded.Store(!e.probeIK(ctx))
		return nil
	}

	contentAnalyzer, searchAnalyzer, headingAnalyzer := "ik_max_word", "ik_smart", "ik_smart"
	if !e.probeIK(ctx) {
		e.logger.Warn("ik analyzer unavailable, falling back to standard analyzer")
		e.degraded.Store(true)
		contentAnalyzer, searchAnalyzer, headingAnalyzer = "standard", "standard", "standard"
	}

	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   3,
			"number_of_replicas": 1,
			"refresh_interval":   "5s",
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"chunk_id":     map[string]interface{}{"type": "keyword"},
				"document_id":  map[string]interface{}{"type": "long"},
				"knowledge_id": map[string]interface{}{"type": "long"},
				"chunk_index":  map[string]interface{}{"type": "integer"},
				"content": map[string]interface{}{
					"type":            "text",
					"analyzer":        contentAnalyzer,
					"search_analyzer": searchAnalyzer,
				},
				"metadata": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"file_name": map[string]interface{}{"type": "keyword"},
						"heading": map[string]interface{}{
							"type":     "text",
							"analyzer": headingAnalyzer,
						},
					},
				},
				"char_count": map[string]interface{}{"type": "integer"},
				"created_at": map[string]interface{}{"type": "date"},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}
	createRes, err := e.cli.Indices.Create(e.index,
		e.cli.Indices.Create.WithContext(ctx),
		e.cli.Indices.Create.WithBody(bytes.NewReader(body)))
	if err != nil {
		return fmt.Errorf("create index %s: %w", e.index, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("create index %s: %s", e.index, readError(createRes.Body))
	}
	e.logger.Info("elasticsearch index created",
		zap.String("index", e.index),
		zap.Bool("degraded", e.degraded.Load()))
	return nil
}

// probeIK 用一段中文跑一次 _analyze 验证 IK 插件
func (e *Elastic) probeIK(ctx context.Context) bool {
	body := `{"analyzer":"ik_max_word","text":"中文分词探测"}`
	res, err := e.cli.Indices.Analyze(
		e.cli.Indices.Analyze.WithContext(ctx),
		e.cli.Indices.Analyze.WithBody(strings.NewReader(body)))
	if err != nil {
		e.logger.Warn("ik analyzer probe request failed", zap.Error(err))
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// chunkDoc 索引文档结构
type chunkDoc struct {
	ChunkID     string        `json:"chunk_id"`
	DocumentID  uint          `json:"document_id"`
	KnowledgeID uint          `json:"knowledge_id"`
	ChunkIndex  int           `json:"chunk_index"`
	Content     string        `json:"content"`
	Metadata    chunkMetadata `json:"metadata"`
	CharCount   int           `json:"char_count"`
	CreatedAt   time.Time     `json:"created_at"`
}

type chunkMetadata struct {
	FileName string `json:"file_name"`
	Heading  string `json:"heading,omitempty"`
}

// IndexChunks 批量写入分块, _id 取 chunk_id 保证重放幂等
func (e *Elastic) IndexChunks(ctx context.Context, chunks []valueobject.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	now := time.Now()
	for _, c := range chunks {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, e.index, c.ChunkID)
		buf.WriteString(meta)
		buf.WriteByte('\n')
		doc, err := json.Marshal(chunkDoc{
			ChunkID:     c.ChunkID,
			DocumentID:  c.DocumentID,
			KnowledgeID: c.KnowledgeID,
			ChunkIndex:  c.ChunkIndex,
			Content:     c.Content,
			Metadata:    chunkMetadata{FileName: c.FileName, Heading: c.Heading},
			CharCount:   len([]rune(c.Content)),
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", c.ChunkID, err)
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	res, err := e.cli.Bulk(bytes.NewReader(buf.Bytes()), e.cli.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk index %d chunks: %w", len(chunks), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index: %s", readError(res.Body))
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("bulk index item failed: %s: %s", op.Error.Type, op.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk index reported errors")
	}
	return nil
}

// SearchChunks BM25 检索
// content 权重加倍, 标题次之; 分数归一化 s/(s+1)
func (e *Elastic) SearchChunks(ctx context.Context, query string, knowledgeIDs []uint, topK int) ([]valueobject.RetrievedChunk, error) {
	searchBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{
						"multi_match": map[string]interface{}{
							"query":  query,
							"fields": []string{"content^2", "metadata.heading"},
							"type":   "best_fields",
						},
					},
				},
				"filter": []interface{}{
					map[string]interface{}{
						"terms": map[string]interface{}{"knowledge_id": knowledgeIDs},
					},
				},
			},
		},
		"size":    topK,
		"_source": []string{"chunk_id", "document_id", "knowledge_id", "chunk_index", "content", "metadata"},
	}
	body, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := e.cli.Search(
		e.cli.Search.WithContext(ctx),
		e.cli.Search.WithIndex(e.index),
		e.cli.Search.WithBody(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search chunks: %s", readError(res.Body))
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				Score  float64  `json:"_score"`
				Source chunkDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]valueobject.RetrievedChunk, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		out = append(out, valueobject.RetrievedChunk{
			ChunkID:     hit.Source.ChunkID,
			DocumentID:  hit.Source.DocumentID,
			KnowledgeID: hit.Source.KnowledgeID,
			ChunkIndex:  hit.Source.ChunkIndex,
			Content:     hit.Source.Content,
			FileName:    hit.Source.Metadata.FileName,
			Score:       hit.Score / (hit.Score + 1),
			Source:      valueobject.SourceKeyword,
		})
	}
	return out, nil
}

// GetChunkByID 取单个分块, 未命中返回 nil
func (e *Elastic) GetChunkByID(ctx context.Context, chunkID string) (*valueobject.RetrievedChunk, error) {
	res, err := e.cli.Get(e.index, chunkID, e.cli.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get chunk %s: %s", chunkID, readError(res.Body))
	}

	var getResp struct {
		Found  bool     `json:"found"`
		Source chunkDoc `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&getResp); err != nil {
		return nil, fmt.Errorf("decode get response: %w", err)
	}
	if !getResp.Found {
		return nil, nil
	}
	rc := toRetrieved(getResp.Source)
	return &rc, nil
}

// GetChunksByIDs 批量取分块
// 结果按 chunk_id 索引, 调用方自行保持顺序; 未命中的 id 不在 map 中
func (e *Elastic) GetChunksByIDs(ctx context.Context, chunkIDs []string) (map[string]valueobject.RetrievedChunk, error) {
	if len(chunkIDs) == 0 {
		return map[string]valueobject.RetrievedChunk{}, nil
	}
	body, err := json.Marshal(map[string]interface{}{"ids": chunkIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal mget body: %w", err)
	}

	res, err := e.cli.Mget(bytes.NewReader(body),
		e.cli.Mget.WithContext(ctx),
		e.cli.Mget.WithIndex(e.index))
	if err != nil {
		return nil, fmt.Errorf("mget %d chunks: %w", len(chunkIDs), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("mget chunks: %s", readError(res.Body))
	}

	var mgetResp struct {
		Docs []struct {
			ID     string   `json:"_id"`
			Found  bool     `json:"found"`
			Source chunkDoc `json:"_source"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&mgetResp); err != nil {
		return nil, fmt.Errorf("decode mget response: %w", err)
	}

	out := make(map[string]valueobject.RetrievedChunk, len(mgetResp.Docs))
	for _, doc := range mgetResp.Docs {
		if !doc.Found {
			continue
		}
		out[doc.ID] = toRetrieved(doc.Source)
	}
	return out, nil
}

// DeleteByDocument 删除某文档的全部分块
func (e *Elastic) DeleteByDocument(ctx context.Context, documentID uint) error {
	return e.deleteByTerm(ctx, "document_id", documentID)
}

// DeleteByKnowledge 删除某知识库的全部分块
func (e *Elastic) DeleteByKnowledge(ctx context.Context, knowledgeID uint) error {
	return e.deleteByTerm(ctx, "knowledge_id", knowledgeID)
}

func (e *Elastic) deleteByTerm(ctx context.Context, field string, value uint) error {
	body := fmt.Sprintf(`{"query":{"term":{%q:%d}}}`, field, value)
	res, err := e.cli.DeleteByQuery([]string{e.index}, strings.NewReader(body),
		e.cli.DeleteByQuery.WithContext(ctx),
		e.cli.DeleteByQuery.WithConflicts("proceed"))
	if err != nil {
		return fmt.Errorf("delete by %s=%d: %w", field, value, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by %s=%d: %s", field, value, readError(res.Body))
	}
	return nil
}

func toRetrieved(doc chunkDoc) valueobject.RetrievedChunk {
	return valueobject.RetrievedChunk{
		ChunkID:     doc.ChunkID,
		DocumentID:  doc.DocumentID,
		KnowledgeID: doc.KnowledgeID,
		ChunkIndex:  doc.ChunkIndex,
		Content:     doc.Content,
		FileName:    doc.Metadata.FileName,
	}
}

func readError(body io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(body, 2048))
	return string(b)
}
