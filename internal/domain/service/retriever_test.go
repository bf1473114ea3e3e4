package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

type stubEmbedder struct{ vec []float32 }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimension(ctx context.Context) (int, error) { return len(s.vec), nil }

type stubEmbedderResolver struct{ embedder Embedder }

func (s *stubEmbedderResolver) EmbedderFor(ctx context.Context, llmID uint) (Embedder, error) {
	return s.embedder, nil
}

type stubVectorStore struct {
	hits    []valueobject.RetrievedChunk
	gotTopK int
}

func (s *stubVectorStore) CreateCollection(ctx context.Context, name string, dim int, description string) error {
	return nil
}

func (s *stubVectorStore) InsertVectors(ctx context.Context, name string, chunks []valueobject.Chunk) error {
	return nil
}

func (s *stubVectorStore) SearchVectors(ctx context.Context, name string, queryVector []float32, topK int, documentIDs []uint) ([]valueobject.RetrievedChunk, error) {
	s.gotTopK = topK
	return append([]valueobject.RetrievedChunk(nil), s.hits...), nil
}

func (s *stubVectorStore) DeleteByDocument(ctx context.Context, name string, documentID uint) error {
	return nil
}

func (s *stubVectorStore) DropCollection(ctx context.Context, name string) error { return nil }

func (s *stubVectorStore) CollectionStats(ctx context.Context, name string) (int64, error) {
	return 0, nil
}

type stubChunkIndex struct {
	hits    []valueobject.RetrievedChunk
	gotTopK int
}

func (s *stubChunkIndex) EnsureIndex(ctx context.Context) error { return nil }

func (s *stubChunkIndex) IndexChunks(ctx context.Context, chunks []valueobject.Chunk) error {
	return nil
}

func (s *stubChunkIndex) SearchChunks(ctx context.Context, query string, knowledgeIDs []uint, topK int) ([]valueobject.RetrievedChunk, error) {
	s.gotTopK = topK
	return append([]valueobject.RetrievedChunk(nil), s.hits...), nil
}

func (s *stubChunkIndex) GetChunkByID(ctx context.Context, chunkID string) (*valueobject.RetrievedChunk, error) {
	return nil, nil
}

func (s *stubChunkIndex) GetChunksByIDs(ctx context.Context, chunkIDs []string) (map[string]valueobject.RetrievedChunk, error) {
	return map[string]valueobject.RetrievedChunk{}, nil
}

func (s *stubChunkIndex) DeleteByDocument(ctx context.Context, documentID uint) error { return nil }

func (s *stubChunkIndex) DeleteByKnowledge(ctx context.Context, knowledgeID uint) error { return nil }

func (s *stubChunkIndex) Degraded() bool { return false }

type stubReranker struct {
	results []valueobject.RerankResult
	err     error
}

func (s *stubReranker) Rerank(ctx context.Context, query string, docs []string, topN int) ([]valueobject.RerankResult, error) {
	return s.results, s.err
}

type stubRerankerResolver struct{ reranker Reranker }

func (s *stubRerankerResolver) RerankerFor(ctx context.Context, llmID uint) (Reranker, error) {
	return s.reranker, nil
}

func testKnowledge() *entity.Knowledge {
	now := time.Now()
	return entity.ReconstructKnowledge(1, 1, "测试库", "", 7, "kb_vec_1", 500, 50, 0, 0, 1, now, now)
}

func newTestRetriever(vectors *stubVectorStore, index *stubChunkIndex, reranker Reranker) *HybridRetriever {
	return NewHybridRetriever(
		&stubEmbedderResolver{embedder: &stubEmbedder{vec: []float32{0.1, 0.2}}},
		&stubRerankerResolver{reranker: reranker},
		vectors, index, zap.NewNop(),
	)
}

func rrfScore(rank int) float64 { return 1.0 / float64(rrfK+rank+1) }

func TestFuseRRFAccumulatesBothLegs(t *testing.T) {
	vectorLeg := []valueobject.RetrievedChunk{
		{ChunkID: "1_0", Source: valueobject.SourceVector},
		{ChunkID: "1_1", Source: valueobject.SourceVector},
	}
	keywordLeg := []valueobject.RetrievedChunk{
		{ChunkID: "2_0", Source: valueobject.SourceKeyword},
		{ChunkID: "1_0", Source: valueobject.SourceKeyword},
	}

	fused := fuseRRF(vectorLeg, keywordLeg, 10)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused hits, got %d", len(fused))
	}

	// 两腿同现: 向量腿名次 0 + 关键词腿名次 1, 标记 hybrid 并居首
	if fused[0].ChunkID != "1_0" {
		t.Fatalf("expected double-leg chunk first, got %s", fused[0].ChunkID)
	}
	want := rrfScore(0) + rrfScore(1)
	if math.Abs(fused[0].Score-want) > 1e-9 {
		t.Errorf("fused score = %v, want %v", fused[0].Score, want)
	}
	if fused[0].Source != valueobject.SourceHybrid {
		t.Errorf("source = %q, want %q", fused[0].Source, valueobject.SourceHybrid)
	}

	// 单腿命中保留原 source 与单份倒数排名分
	for _, rc := range fused[1:] {
		if rc.Source == valueobject.SourceHybrid {
			t.Errorf("single-leg chunk %s wrongly tagged hybrid", rc.ChunkID)
		}
	}
}

func TestFuseRRFTieBreakPrefersVectorLeg(t *testing.T) {
	// 两条不同命中各居一腿的第 0 名, 分数完全相同
	vectorLeg := []valueobject.RetrievedChunk{{ChunkID: "vec_only", Source: valueobject.SourceVector}}
	keywordLeg := []valueobject.RetrievedChunk{{ChunkID: "kw_only", Source: valueobject.SourceKeyword}}

	fused := fuseRRF(vectorLeg, keywordLeg, 10)
	if len(fused) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(fused))
	}
	if math.Abs(fused[0].Score-fused[1].Score) > 1e-9 {
		t.Fatalf("expected tied scores, got %v and %v", fused[0].Score, fused[1].Score)
	}
	if fused[0].ChunkID != "vec_only" {
		t.Errorf("tie-break should prefer the vector leg, got %s first", fused[0].ChunkID)
	}
}

func TestFuseRRFLimit(t *testing.T) {
	vectorLeg := []valueobject.RetrievedChunk{
		{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"},
	}
	fused := fuseRRF(vectorLeg, nil, 2)
	if len(fused) != 2 {
		t.Fatalf("expected limit to cap output at 2, got %d", len(fused))
	}
	if fused[0].ChunkID != "a" || fused[1].ChunkID != "b" {
		t.Errorf("expected rank order preserved, got %s, %s", fused[0].ChunkID, fused[1].ChunkID)
	}
}

func TestRetrieveExpandsRecallUnderRerank(t *testing.T) {
	vectors := &stubVectorStore{hits: []valueobject.RetrievedChunk{
		{ChunkID: "1_0", Content: "甲", Score: 0.9},
	}}
	index := &stubChunkIndex{hits: []valueobject.RetrievedChunk{
		{ChunkID: "1_1", Content: "乙"},
	}}
	// 重排失败, 应退回融合序
	r := newTestRetriever(vectors, index, &stubReranker{err: errors.New("rerank endpoint down")})

	got, err := r.Retrieve(context.Background(), RetrieveParams{
		Query:        "问题",
		TopK:         3,
		Knowledges:   []*entity.Knowledge{testKnowledge()},
		EnableRerank: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if vectors.gotTopK != 12 || index.gotTopK != 12 {
		t.Errorf("recall depth = %d/%d, want top_k*4 = 12 on both legs",
			vectors.gotTopK, index.gotTopK)
	}
	if len(got) != 2 {
		t.Fatalf("expected fused order fallback with 2 hits, got %d", len(got))
	}
	for _, rc := range got {
		if rc.Source == valueobject.SourceVector+"+rerank" || rc.Source == valueobject.SourceKeyword+"+rerank" {
			t.Errorf("fallback result must not carry rerank tag, got %q", rc.Source)
		}
	}
}

func TestRetrieveWithoutRerankUsesTopK(t *testing.T) {
	vectors := &stubVectorStore{}
	index := &stubChunkIndex{}
	r := newTestRetriever(vectors, index, &stubReranker{})

	got, err := r.Retrieve(context.Background(), RetrieveParams{
		Query:      "问题",
		TopK:       5,
		Knowledges: []*entity.Knowledge{testKnowledge()},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on empty recall, got %v", got)
	}
	if vectors.gotTopK != 5 || index.gotTopK != 5 {
		t.Errorf("recall depth = %d/%d, want top_k = 5 when rerank disabled",
			vectors.gotTopK, index.gotTopK)
	}
}

func TestRetrieveRerankDropsOutOfRangeIndex(t *testing.T) {
	vectors := &stubVectorStore{hits: []valueobject.RetrievedChunk{
		{ChunkID: "1_0", Content: "甲", Score: 0.9},
		{ChunkID: "1_1", Content: "乙", Score: 0.8},
	}}
	index := &stubChunkIndex{}
	reranker := &stubReranker{results: []valueobject.RerankResult{
		{Index: 1, Score: 0.95},
		{Index: 99, Score: 0.90}, // 越界下标必须丢弃
		{Index: -1, Score: 0.85},
	}}
	r := newTestRetriever(vectors, index, reranker)

	got, err := r.Retrieve(context.Background(), RetrieveParams{
		Query:        "问题",
		TopK:         5,
		Knowledges:   []*entity.Knowledge{testKnowledge()},
		EnableRerank: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the in-range result, got %d", len(got))
	}
	if got[0].ChunkID != "1_1" {
		t.Errorf("chunk = %s, want 1_1", got[0].ChunkID)
	}
	if got[0].Score != 0.95 {
		t.Errorf("score = %v, want rerank score 0.95", got[0].Score)
	}
	if got[0].Source != valueobject.SourceVector+"+rerank" {
		t.Errorf("source = %q, want vector+rerank", got[0].Source)
	}
}
