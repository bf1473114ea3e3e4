package service

import (
	"math"
	"testing"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

func chunk(docID uint, score float64) valueobject.RetrievedChunk {
	return valueobject.RetrievedChunk{DocumentID: docID, Score: score}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEvaluateRecallQueryWithExpectedDocs(t *testing.T) {
	q := valueobject.RecallQuery{
		Query:          "退款流程",
		ExpectedDocIDs: []uint{1, 2, 3, 4},
	}
	// 过阈值命中 1、2 和误检 9, 文档 3 只以低分出现
	retrieved := []valueobject.RetrievedChunk{
		chunk(1, 0.9),
		chunk(2, 0.8),
		chunk(9, 0.7),
		chunk(3, 0.2),
	}

	res := EvaluateRecallQuery(q, retrieved, 0.5, 120)

	if !almostEqual(res.Recall, 0.5) {
		t.Errorf("recall = %v, want 0.5", res.Recall)
	}
	if !almostEqual(res.Precision, 2.0/3.0) {
		t.Errorf("precision = %v, want 2/3", res.Precision)
	}
	wantF1 := 2 * 0.5 * (2.0 / 3.0) / (0.5 + 2.0/3.0)
	if !almostEqual(res.F1, wantF1) {
		t.Errorf("f1 = %v, want %v", res.F1, wantF1)
	}
	// 文档 3 虽未过阈值, 但出现在未过滤列表中, top_n_hit 仍成立
	if !res.TopNHit {
		t.Error("expected top_n_hit to be true")
	}
	if res.LatencyMS != 120 {
		t.Errorf("latency = %v, want 120", res.LatencyMS)
	}
	if len(res.RetrievedDocIDs) != 3 {
		t.Errorf("retrieved doc ids = %v, want 3 entries", res.RetrievedDocIDs)
	}
}

func TestEvaluateRecallQueryNoOverlap(t *testing.T) {
	q := valueobject.RecallQuery{Query: "不相关", ExpectedDocIDs: []uint{100}}
	retrieved := []valueobject.RetrievedChunk{chunk(1, 0.9), chunk(2, 0.8)}

	res := EvaluateRecallQuery(q, retrieved, 0.5, 50)

	if res.Recall != 0 || res.Precision != 0 || res.F1 != 0 {
		t.Errorf("expected zero metrics, got recall=%v precision=%v f1=%v",
			res.Recall, res.Precision, res.F1)
	}
	if res.TopNHit {
		t.Error("expected top_n_hit to be false")
	}
}

func TestEvaluateRecallQueryDeduplicatesChunks(t *testing.T) {
	// 同一文档的多个分块只计一次
	q := valueobject.RecallQuery{Query: "去重", ExpectedDocIDs: []uint{7}}
	retrieved := []valueobject.RetrievedChunk{chunk(7, 0.9), chunk(7, 0.85), chunk(7, 0.8)}

	res := EvaluateRecallQuery(q, retrieved, 0.5, 10)

	if !almostEqual(res.Precision, 1) {
		t.Errorf("precision = %v, want 1", res.Precision)
	}
	if len(res.RetrievedDocIDs) != 1 {
		t.Errorf("retrieved doc ids = %v, want single entry", res.RetrievedDocIDs)
	}
}

func TestEvaluateRecallQueryWithoutExpectedSet(t *testing.T) {
	q := valueobject.RecallQuery{Query: "无标注"}

	hit := EvaluateRecallQuery(q, []valueobject.RetrievedChunk{chunk(1, 0.9)}, 0.5, 10)
	if !hit.TopNHit || hit.Recall != 1 || hit.Precision != 1 || hit.F1 != 1 {
		t.Errorf("expected perfect metrics on any hit, got %+v", hit)
	}

	miss := EvaluateRecallQuery(q, []valueobject.RetrievedChunk{chunk(1, 0.1)}, 0.5, 10)
	if miss.TopNHit || miss.Recall != 0 {
		t.Errorf("expected zero metrics when nothing passes threshold, got %+v", miss)
	}
}

func TestSummarizeRecall(t *testing.T) {
	results := []valueobject.RecallResult{
		{Recall: 1, Precision: 1, F1: 1, TopNHit: true, LatencyMS: 100},
		{Recall: 0.5, Precision: 0.5, F1: 0.5, TopNHit: true, LatencyMS: 200},
		{Recall: 0, Precision: 0, F1: 0, TopNHit: false, LatencyMS: 300},
	}

	s := SummarizeRecall(results)

	if s.Total != 3 || s.Hits != 2 {
		t.Errorf("total=%d hits=%d, want 3/2", s.Total, s.Hits)
	}
	if !almostEqual(s.AvgRecall, 0.5) || !almostEqual(s.AvgPrecision, 0.5) {
		t.Errorf("avg recall=%v precision=%v, want 0.5/0.5", s.AvgRecall, s.AvgPrecision)
	}
	if !almostEqual(s.AvgLatencyMS, 200) {
		t.Errorf("avg latency = %v, want 200", s.AvgLatencyMS)
	}
	if !almostEqual(s.TopNHitRate, 2.0/3.0) {
		t.Errorf("top_n_hit_rate = %v, want 2/3", s.TopNHitRate)
	}
}

func TestSummarizeRecallEmpty(t *testing.T) {
	s := SummarizeRecall(nil)
	if s.Total != 0 || s.TopNHitRate != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
}
