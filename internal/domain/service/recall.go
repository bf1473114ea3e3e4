package service

import "github.com/ragforge/ragforge/backend/internal/domain/valueobject"

// EvaluateRecallQuery 计算单条查询的召回指标
// retrieved 为未过滤的命中列表(分数降序), threshold 用于筛出计入集合指标的命中
func EvaluateRecallQuery(q valueobject.RecallQuery, retrieved []valueobject.RetrievedChunk, threshold float64, latencyMS float64) valueobject.RecallResult {
	res := valueobject.RecallResult{Query: q.Query, LatencyMS: latencyMS}

	// 未过滤列表里出现过的文档, 用于 top_n_hit
	allDocs := make(map[uint]bool, len(retrieved))
	// 过阈值的文档集合 R
	hitDocs := make(map[uint]bool)
	for _, rc := range retrieved {
		allDocs[rc.DocumentID] = true
		if rc.Score >= threshold {
			if !hitDocs[rc.DocumentID] {
				hitDocs[rc.DocumentID] = true
				res.RetrievedDocIDs = append(res.RetrievedDocIDs, rc.DocumentID)
			}
		}
	}

	if len(q.ExpectedDocIDs) == 0 {
		// 无期望集: 有任何过阈值命中即算全对
		res.TopNHit = len(hitDocs) > 0
		if res.TopNHit {
			res.Recall, res.Precision, res.F1 = 1, 1, 1
		}
		return res
	}

	expected := make(map[uint]bool, len(q.ExpectedDocIDs))
	for _, id := range q.ExpectedDocIDs {
		expected[id] = true
		if allDocs[id] {
			res.TopNHit = true
		}
	}

	overlap := 0
	for id := range hitDocs {
		if expected[id] {
			overlap++
		}
	}
	res.Recall = float64(overlap) / float64(len(expected))
	if len(hitDocs) > 0 {
		res.Precision = float64(overlap) / float64(len(hitDocs))
	}
	if res.Recall+res.Precision > 0 {
		res.F1 = 2 * res.Recall * res.Precision / (res.Recall + res.Precision)
	}
	return res
}

// SummarizeRecall 对全部查询结果取算术平均
func SummarizeRecall(results []valueobject.RecallResult) valueobject.RecallSummary {
	s := valueobject.RecallSummary{Total: len(results)}
	if s.Total == 0 {
		return s
	}
	for _, r := range results {
		s.AvgRecall += r.Recall
		s.AvgPrecision += r.Precision
		s.AvgF1 += r.F1
		s.AvgLatencyMS += r.LatencyMS
		if r.TopNHit {
			s.Hits++
		}
	}
	n := float64(s.Total)
	s.AvgRecall /= n
	s.AvgPrecision /= n
	s.AvgF1 /= n
	s.AvgLatencyMS /= n
	s.TopNHitRate = float64(s.Hits) / n
	return s
}
