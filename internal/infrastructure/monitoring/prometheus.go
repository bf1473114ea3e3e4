package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format metrics.
// This avoids pulling in the full prometheus/client_golang dependency.
// Mount it at "/metrics" in your HTTP server.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		// Write metrics in Prometheus exposition format
		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			// Request counters
			{"ragforge_requests_total", "Total number of HTTP requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"ragforge_requests_success_total", "Total successful requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"ragforge_requests_failed_total", "Total failed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			// Retrieval counters
			{"ragforge_retrievals_total", "Total hybrid retrieval executions", "counter", atomic.LoadUint64(&m.metrics.RetrievalsTotal)},

			// Provider counters
			{"ragforge_provider_calls_total", "Total LLM provider calls", "counter", atomic.LoadUint64(&m.metrics.ProviderCallsTotal)},
			{"ragforge_provider_calls_failed_total", "Total failed LLM provider calls", "counter", atomic.LoadUint64(&m.metrics.ProviderCallsFailed)},
			{"ragforge_provider_tokens_used_total", "Total tokens reported by providers", "counter", atomic.LoadUint64(&m.metrics.ProviderTokensUsed)},

			// Pipeline counters
			{"ragforge_docs_parsed_total", "Documents parsed by the ingestion pipeline", "counter", atomic.LoadUint64(&m.metrics.DocsParsed)},
			{"ragforge_docs_split_total", "Documents split into chunks", "counter", atomic.LoadUint64(&m.metrics.DocsSplit)},
			{"ragforge_docs_embedded_total", "Documents embedded and dual-indexed", "counter", atomic.LoadUint64(&m.metrics.DocsEmbedded)},
			{"ragforge_docs_failed_total", "Documents failed in the pipeline", "counter", atomic.LoadUint64(&m.metrics.DocsFailed)},

			// Errors
			{"ragforge_errors_total", "Total errors encountered", "counter", atomic.LoadUint64(&m.metrics.ErrorsTotal)},

			// Gauges
			{"ragforge_active_streams", "In-flight SSE chat streams", "gauge", atomic.LoadInt64(&m.metrics.ActiveStreams)},
			{"ragforge_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			// Runtime metrics
			{"ragforge_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"ragforge_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"ragforge_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"ragforge_gc_pause_total_ns", "Total GC pause time in nanoseconds", "counter", memStats.PauseTotalNs},
			{"ragforge_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		// Latency summaries
		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP ragforge_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE ragforge_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "ragforge_request_latency_avg_ms %f\n\n", avgMs)
		}

		retrCount := atomic.LoadUint64(&m.metrics.RetrievalCount)
		if retrCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RetrievalLatencySum)) / float64(retrCount) / 1e6
			fmt.Fprintf(w, "# HELP ragforge_retrieval_latency_avg_ms Average hybrid retrieval latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE ragforge_retrieval_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "ragforge_retrieval_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
