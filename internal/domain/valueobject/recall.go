package valueobject

// 召回测试任务状态
const (
	RecallStatusPending  = "pending"
	RecallStatusRunning  = "running"
	RecallStatusFinished = "finished"
	RecallStatusFailed   = "failed"
)

// 召回测试的批量上限
const MaxRecallQueries = 5000

// RecallQuery 一条测试查询
type RecallQuery struct {
	Query          string `json:"query"`
	ExpectedDocIDs []uint `json:"expected_doc_ids,omitempty"`
}

// RecallResult 单条查询的评测结果
// 有期望文档时: recall/precision/F1 按集合交并计算, top_n_hit 看未过滤列表;
// 无期望文档时: top_n_hit = 有命中, 三项指标随 top_n_hit 取 1 或 0
type RecallResult struct {
	Query           string  `json:"query"`
	Recall          float64 `json:"recall"`
	Precision       float64 `json:"precision"`
	F1              float64 `json:"f1"`
	TopNHit         bool    `json:"top_n_hit"`
	LatencyMS       float64 `json:"latency_ms"`
	RetrievedDocIDs []uint  `json:"retrieved_doc_ids,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// RecallSummary 全量汇总
type RecallSummary struct {
	Total        int     `json:"total"`
	Hits         int     `json:"hits"`
	AvgRecall    float64 `json:"avg_recall"`
	AvgPrecision float64 `json:"avg_precision"`
	AvgF1        float64 `json:"avg_f1"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	TopNHitRate  float64 `json:"top_n_hit_rate"`
}

// RecallTask 召回测试任务（缓存驻留, TTL 1 小时）
type RecallTask struct {
	TaskID             string         `json:"task_id"`
	Status             string         `json:"status"`
	Progress           float64        `json:"progress"` // 0..100
	Total              int            `json:"total"`
	Completed          int            `json:"completed"`
	StartTime          int64          `json:"start_time"` // unix 秒
	EstimatedRemaining float64        `json:"estimated_remaining,omitempty"`
	Results            []RecallResult `json:"results,omitempty"`
	Summary            *RecallSummary `json:"summary,omitempty"`
	Error              string         `json:"error,omitempty"`
}
