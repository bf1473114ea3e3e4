package service

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// RRF 融合常数
const rrfK = 60

// 启用重排时召回阶段的放大倍数
const rerankRecallMultiplier = 4

// VectorStore 向量库端口（实现在基础设施层）
type VectorStore interface {
	// CreateCollection 建 collection 并建索引
	CreateCollection(ctx context.Context, name string, dim int, description string) error

	// InsertVectors 批量写入分块(带向量)
	InsertVectors(ctx context.Context, name string, chunks []valueobject.Chunk) error

	// SearchVectors 近邻检索, documentIDs 非空时按文档过滤
	SearchVectors(ctx context.Context, name string, queryVector []float32, topK int, documentIDs []uint) ([]valueobject.RetrievedChunk, error)

	// DeleteByDocument 删除某文档的全部向量
	DeleteByDocument(ctx context.Context, name string, documentID uint) error

	// DropCollection 删除整个 collection
	DropCollection(ctx context.Context, name string) error

	// CollectionStats 返回 collection 内实体数
	CollectionStats(ctx context.Context, name string) (int64, error)
}

// ChunkIndex 全文索引端口（实现在基础设施层）
type ChunkIndex interface {
	// EnsureIndex 幂等建索引(含分词器探测)
	EnsureIndex(ctx context.Context) error

	// IndexChunks 批量写入分块
	IndexChunks(ctx context.Context, chunks []valueobject.Chunk) error

	// SearchChunks BM25 检索, 按 knowledge_id 集合过滤
	SearchChunks(ctx context.Context, query string, knowledgeIDs []uint, topK int) ([]valueobject.RetrievedChunk, error)

	// GetChunkByID 取单个分块
	GetChunkByID(ctx context.Context, chunkID string) (*valueobject.RetrievedChunk, error)

	// GetChunksByIDs 批量取分块, 返回 chunk_id → 分块
	GetChunksByIDs(ctx context.Context, chunkIDs []string) (map[string]valueobject.RetrievedChunk, error)

	// DeleteByDocument 删除某文档的全部分块
	DeleteByDocument(ctx context.Context, documentID uint) error

	// DeleteByKnowledge 删除某知识库的全部分块
	DeleteByKnowledge(ctx context.Context, knowledgeID uint) error

	// Degraded 返回是否运行在降级分词器上
	Degraded() bool
}

// RetrieveParams 一次混合检索的参数
// Knowledges 必须是已过滤为启用状态的知识库
type RetrieveParams struct {
	Query        string
	TopK         int
	Knowledges   []*entity.Knowledge
	EnableRerank bool
	RerankLLMID  uint
}

// HybridRetriever 混合检索服务: 向量召回 + 关键词召回 + RRF 融合 + 可选重排
type HybridRetriever struct {
	embedders EmbedderResolver
	rerankers RerankerResolver
	vectors   VectorStore
	index     ChunkIndex
	logger    *zap.Logger
}

// NewHybridRetriever 创建混合检索服务
func NewHybridRetriever(
	embedders EmbedderResolver,
	rerankers RerankerResolver,
	vectors VectorStore,
	index ChunkIndex,
	logger *zap.Logger,
) *HybridRetriever {
	return &HybridRetriever{
		embedders: embedders,
		rerankers: rerankers,
		vectors:   vectors,
		index:     index,
		logger:    logger,
	}
}

// Retrieve 执行混合检索, 返回按相关性降序的前 TopK 条
func (r *HybridRetriever) Retrieve(ctx context.Context, p RetrieveParams) ([]valueobject.RetrievedChunk, error) {
	if p.TopK <= 0 {
		p.TopK = entity.DefaultTopK
	}
	recallK := p.TopK
	if p.EnableRerank {
		recallK = p.TopK * rerankRecallMultiplier
	}

	vectorLeg := r.vectorLeg(ctx, p.Query, p.Knowledges, recallK)
	keywordLeg := r.keywordLeg(ctx, p.Query, p.Knowledges, recallK)

	fused := fuseRRF(vectorLeg, keywordLeg, recallK)
	if len(fused) == 0 {
		return nil, nil
	}

	r.hydrate(ctx, fused)

	if p.EnableRerank {
		if reranked, ok := r.rerank(ctx, p.Query, fused, p.RerankLLMID, p.TopK); ok {
			return reranked, nil
		}
		// 重排失败时退回融合序
	}
	if len(fused) > p.TopK {
		fused = fused[:p.TopK]
	}
	return fused, nil
}

// vectorLeg 向量召回
// 按 embed_llm_id 分组: 查询必须用与语料相同的模型编码;
// 组内各 collection 并发检索, 单库失败跳过不拖垮整条腿
func (r *HybridRetriever) vectorLeg(ctx context.Context, query string, kbs []*entity.Knowledge, recallK int) []valueobject.RetrievedChunk {
	groups := make(map[uint][]*entity.Knowledge)
	for _, kb := range kbs {
		groups[kb.EmbedLLMID()] = append(groups[kb.EmbedLLMID()], kb)
	}

	var mu sync.Mutex
	var all []valueobject.RetrievedChunk

	for llmID, group := range groups {
		embedder, err := r.embedders.EmbedderFor(ctx, llmID)
		if err != nil {
			r.logger.Warn("embedder unavailable, skipping vector group",
				zap.Uint("embed_llm_id", llmID), zap.Error(err))
			continue
		}
		vecs, err := embedder.Embed(ctx, []string{query})
		if err != nil || len(vecs) == 0 {
			r.logger.Warn("query embedding failed, skipping vector group",
				zap.Uint("embed_llm_id", llmID), zap.Error(err))
			continue
		}
		queryVec := vecs[0]

		var wg sync.WaitGroup
		for _, kb := range group {
			wg.Add(1)
			go func(kb *entity.Knowledge) {
				defer wg.Done()
				hits, err := r.vectors.SearchVectors(ctx, kb.VectorCollectionName(), queryVec, recallK, nil)
				if err != nil {
					r.logger.Warn("vector search failed, skipping knowledge",
						zap.Uint("knowledge_id", kb.ID()), zap.Error(err))
					return
				}
				for i := range hits {
					hits[i].KnowledgeID = kb.ID()
					hits[i].Source = valueobject.SourceVector
				}
				mu.Lock()
				all = append(all, hits...)
				mu.Unlock()
			}(kb)
		}
		wg.Wait()
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > recallK {
		all = all[:recallK]
	}
	return all
}

// keywordLeg 关键词召回: 对全文索引发一次多库过滤查询
func (r *HybridRetriever) keywordLeg(ctx context.Context, query string, kbs []*entity.Knowledge, recallK int) []valueobject.RetrievedChunk {
	ids := make([]uint, 0, len(kbs))
	for _, kb := range kbs {
		ids = append(ids, kb.ID())
	}
	hits, err := r.index.SearchChunks(ctx, query, ids, recallK)
	if err != nil {
		r.logger.Warn("keyword search failed, vector leg only", zap.Error(err))
		return nil
	}
	for i := range hits {
		hits[i].Source = valueobject.SourceKeyword
	}
	return hits
}

// fuseRRF 倒数排名融合
// 每条命中按它在各腿的 0 基名次 r 积累 1/(60+r+1);
// 两腿同现标记 hybrid; 同分时向量腿优先, 腿内按名次
func fuseRRF(vectorLeg, keywordLeg []valueobject.RetrievedChunk, limit int) []valueobject.RetrievedChunk {
	type fusedHit struct {
		rc      valueobject.RetrievedChunk
		score   float64
		inVec   bool
		vecRank int
		kwRank  int
	}

	byID := make(map[string]*fusedHit, len(vectorLeg)+len(keywordLeg))
	order := make([]string, 0, len(vectorLeg)+len(keywordLeg))

	for rank, rc := range vectorLeg {
		h := &fusedHit{rc: rc, inVec: true, vecRank: rank, kwRank: -1}
		h.score = 1.0 / float64(rrfK+rank+1)
		byID[rc.ChunkID] = h
		order = append(order, rc.ChunkID)
	}
	for rank, rc := range keywordLeg {
		if h, ok := byID[rc.ChunkID]; ok {
			h.score += 1.0 / float64(rrfK+rank+1)
			h.kwRank = rank
			h.rc.Source = valueobject.SourceHybrid
			continue
		}
		h := &fusedHit{rc: rc, vecRank: -1, kwRank: rank}
		h.score = 1.0 / float64(rrfK+rank+1)
		byID[rc.ChunkID] = h
		order = append(order, rc.ChunkID)
	}

	hits := make([]*fusedHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, byID[id])
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.inVec != b.inVec {
			return a.inVec
		}
		if a.inVec {
			return a.vecRank < b.vecRank
		}
		return a.kwRank < b.kwRank
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]valueobject.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		h.rc.Score = h.score
		out = append(out, h.rc)
	}
	return out
}

// hydrate 用全文索引批量补全 content/file_name, 保持融合顺序
// 向量腿只带 preview, 命中缺失时保留原内容
func (r *HybridRetriever) hydrate(ctx context.Context, fused []valueobject.RetrievedChunk) {
	ids := make([]string, 0, len(fused))
	for _, rc := range fused {
		ids = append(ids, rc.ChunkID)
	}
	full, err := r.index.GetChunksByIDs(ctx, ids)
	if err != nil {
		r.logger.Warn("chunk hydration failed, previews retained", zap.Error(err))
		return
	}
	for i := range fused {
		if c, ok := full[fused[i].ChunkID]; ok {
			fused[i].Content = c.Content
			fused[i].FileName = c.FileName
			fused[i].DocumentID = c.DocumentID
			fused[i].ChunkIndex = c.ChunkIndex
			if fused[i].KnowledgeID == 0 {
				fused[i].KnowledgeID = c.KnowledgeID
			}
		}
	}
}

// rerank 调用重排模型改写相关性分; 返回 ok=false 表示重排不可用
func (r *HybridRetriever) rerank(ctx context.Context, query string, fused []valueobject.RetrievedChunk, llmID uint, topK int) ([]valueobject.RetrievedChunk, bool) {
	reranker, err := r.rerankers.RerankerFor(ctx, llmID)
	if err != nil {
		r.logger.Warn("reranker unavailable, keeping fused order", zap.Error(err))
		return nil, false
	}
	docs := make([]string, 0, len(fused))
	for _, rc := range fused {
		docs = append(docs, rc.Content)
	}
	results, err := reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		r.logger.Warn("rerank failed, keeping fused order", zap.Error(err))
		return nil, false
	}

	out := make([]valueobject.RetrievedChunk, 0, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(fused) {
			continue
		}
		rc := fused[res.Index]
		rc.Score = res.Score
		rc.Source = rc.Source + "+rerank"
		out = append(out, rc)
	}
	// 重排分相同的按输入顺序
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, true
}
