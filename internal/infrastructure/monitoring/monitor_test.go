package monitoring

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMonitorCounters(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	m.IncRequestTotal()
	m.IncRequestSuccess()
	m.IncRetrieval()
	m.IncDocParsed()
	m.AddTokensUsed(120)
	m.StreamStarted()
	m.RecordRequestLatency(10 * time.Millisecond)

	stats := m.GetStats()
	if stats["requests_total"].(uint64) != 1 {
		t.Errorf("requests_total = %v", stats["requests_total"])
	}
	if stats["provider_tokens_used"].(uint64) != 120 {
		t.Errorf("tokens = %v", stats["provider_tokens_used"])
	}
	if stats["active_streams"].(int64) != 1 {
		t.Errorf("active_streams = %v", stats["active_streams"])
	}

	m.StreamFinished()
	if m.GetStats()["active_streams"].(int64) != 0 {
		t.Error("stream gauge not decremented")
	}
}

func TestPrometheusHandlerOutput(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	m.IncRequestTotal()
	m.IncDocEmbedded()
	m.RecordRetrievalLatency(5 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, want := range []string{
		"ragforge_requests_total 1",
		"ragforge_docs_embedded_total 1",
		"ragforge_retrieval_latency_avg_ms",
		"# TYPE ragforge_active_streams gauge",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
