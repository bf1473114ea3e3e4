package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics 指标收集器
type Metrics struct {
	// HTTP 请求
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	// 混合检索
	RetrievalsTotal     uint64
	RetrievalLatencySum uint64 // 纳秒
	RetrievalCount      uint64

	// 模型提供商调用
	ProviderCallsTotal  uint64
	ProviderCallsFailed uint64
	ProviderTokensUsed  uint64

	// 摄取流水线
	DocsParsed   uint64
	DocsSplit    uint64
	DocsEmbedded uint64
	DocsFailed   uint64

	// 在途 SSE 流
	ActiveStreams int64

	// 延迟 (纳秒)
	RequestLatencySum   uint64
	RequestLatencyCount uint64

	// 错误
	ErrorsTotal uint64

	StartTime time.Time
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
	ActiveStreams     int64     `json:"active_streams"`
	MemoryMB          float64   `json:"memory_mb"`
	Goroutines        int       `json:"goroutines"`
}

// Monitor 运行时监控
type Monitor struct {
	metrics      Metrics
	mu           sync.RWMutex
	history      []MetricsSnapshot
	historyLimit int
	logger       *zap.Logger
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics:      Metrics{StartTime: time.Now()},
		historyLimit: 120,
		logger:       logger,
	}
}

func (m *Monitor) IncRequestTotal()    { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess()  { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()   { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncRetrieval()       { atomic.AddUint64(&m.metrics.RetrievalsTotal, 1) }
func (m *Monitor) IncProviderCall()    { atomic.AddUint64(&m.metrics.ProviderCallsTotal, 1) }
func (m *Monitor) IncProviderFailure() { atomic.AddUint64(&m.metrics.ProviderCallsFailed, 1) }
func (m *Monitor) IncDocParsed()       { atomic.AddUint64(&m.metrics.DocsParsed, 1) }
func (m *Monitor) IncDocSplit()        { atomic.AddUint64(&m.metrics.DocsSplit, 1) }
func (m *Monitor) IncDocEmbedded()     { atomic.AddUint64(&m.metrics.DocsEmbedded, 1) }
func (m *Monitor) IncDocFailed()       { atomic.AddUint64(&m.metrics.DocsFailed, 1) }
func (m *Monitor) IncError()           { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }

func (m *Monitor) AddTokensUsed(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.ProviderTokensUsed, uint64(n))
	}
}

func (m *Monitor) StreamStarted()  { atomic.AddInt64(&m.metrics.ActiveStreams, 1) }
func (m *Monitor) StreamFinished() { atomic.AddInt64(&m.metrics.ActiveStreams, -1) }

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

func (m *Monitor) RecordRetrievalLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RetrievalLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RetrievalCount, 1)
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6 // ms
	}
	avgRetrieval := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RetrievalCount); count > 0 {
		avgRetrieval = float64(atomic.LoadUint64(&m.metrics.RetrievalLatencySum)) / float64(count) / 1e6
	}

	return map[string]interface{}{
		"uptime_seconds":        uptime.Seconds(),
		"requests_total":        reqTotal,
		"requests_success":      atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":       atomic.LoadUint64(&m.metrics.RequestsFailed),
		"retrievals_total":      atomic.LoadUint64(&m.metrics.RetrievalsTotal),
		"provider_calls_total":  atomic.LoadUint64(&m.metrics.ProviderCallsTotal),
		"provider_calls_failed": atomic.LoadUint64(&m.metrics.ProviderCallsFailed),
		"provider_tokens_used":  atomic.LoadUint64(&m.metrics.ProviderTokensUsed),
		"docs_parsed":           atomic.LoadUint64(&m.metrics.DocsParsed),
		"docs_split":            atomic.LoadUint64(&m.metrics.DocsSplit),
		"docs_embedded":         atomic.LoadUint64(&m.metrics.DocsEmbedded),
		"docs_failed":           atomic.LoadUint64(&m.metrics.DocsFailed),
		"active_streams":        atomic.LoadInt64(&m.metrics.ActiveStreams),
		"errors_total":          atomic.LoadUint64(&m.metrics.ErrorsTotal),
		"avg_latency_ms":        avgLatency,
		"avg_retrieval_ms":      avgRetrieval,
		"memory_mb":             float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":            runtime.NumGoroutine(),
		"rps":                   float64(reqTotal) / uptime.Seconds(),
	}
}

// Snapshot 创建快照并保存
func (m *Monitor) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime).Seconds()
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
	}

	snapshot := MetricsSnapshot{
		Timestamp:         time.Now(),
		RequestsPerSecond: float64(reqTotal) / uptime,
		AvgLatencyMs:      avgLatency,
		ActiveStreams:     atomic.LoadInt64(&m.metrics.ActiveStreams),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snapshot
}

// GetHistory 获取历史快照
func (m *Monitor) GetHistory() []MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]MetricsSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// StartCollector 启动定期收集
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Snapshot()
		}
	}
}
