package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestLocalRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Query != "什么是向量检索" || len(req.Documents) != 3 {
			t.Errorf("req = %+v", req)
		}
		w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.95},{"index":0,"relevance_score":0.4}]}`))
	}))
	defer srv.Close()

	l := NewLocal(srv.URL, "bge-reranker", zap.NewNop())
	results, err := l.Rerank(context.Background(), "什么是向量检索", []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Index != 2 || results[0].Score != 0.95 {
		t.Errorf("results[0] = %+v", results[0])
	}
}

func TestLocalRerankEmptyDocs(t *testing.T) {
	l := NewLocal("http://localhost:1", "bge-reranker", zap.NewNop())
	results, err := l.Rerank(context.Background(), "q", nil, 5)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}

func TestLocalRerankIndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":9,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	l := NewLocal(srv.URL, "bge-reranker", zap.NewNop())
	if _, err := l.Rerank(context.Background(), "q", []string{"a"}, 1); err == nil {
		t.Fatal("want out-of-range error")
	}
}

func TestLocalRerankServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := NewLocal(srv.URL, "bge-reranker", zap.NewNop())
	if _, err := l.Rerank(context.Background(), "q", []string{"a"}, 1); err == nil {
		t.Fatal("want error for server failure")
	}
}
