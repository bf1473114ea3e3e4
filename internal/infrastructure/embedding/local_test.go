package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newEmbedServer(t *testing.T, dim int, callCount *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount != nil {
			*callCount++
		}
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		embeddings := make([][]float32, len(req.Input))
		for i := range embeddings {
			vec := make([]float32, dim)
			for j := range vec {
				vec[j] = float32(i+1) * 0.1
			}
			embeddings[i] = vec
		}
		json.NewEncoder(w).Encode(embedResponse{Model: req.Model, Embeddings: embeddings})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLocalEmbed(t *testing.T) {
	srv := newEmbedServer(t, 8, nil)
	e := NewLocal(srv.URL, "test-model", 16, zap.NewNop())

	vecs, err := e.Embed(context.Background(), []string{"你好", "世界", "测试"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, vec := range vecs {
		if len(vec) != 8 {
			t.Errorf("vec[%d] has %d dims, want 8", i, len(vec))
		}
	}
}

func TestLocalEmbedBatching(t *testing.T) {
	calls := 0
	srv := newEmbedServer(t, 4, &calls)
	e := NewLocal(srv.URL, "test-model", 2, zap.NewNop())

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 5 {
		t.Fatalf("got %d vectors, want 5", len(vecs))
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 batches of size 2", calls)
	}
}

func TestLocalEmbedEmpty(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	e := NewLocal(srv.URL, "test-model", 16, zap.NewNop())

	vecs, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs != nil {
		t.Errorf("vecs = %v, want nil", vecs)
	}
}

func TestLocalDimensionProbe(t *testing.T) {
	calls := 0
	srv := newEmbedServer(t, 768, &calls)
	e := NewLocal(srv.URL, "test-model", 16, zap.NewNop())

	dim, err := e.Dimension(context.Background())
	if err != nil {
		t.Fatalf("Dimension: %v", err)
	}
	if dim != 768 {
		t.Errorf("dimension = %d, want 768", dim)
	}

	// 第二次走缓存
	if _, err := e.Dimension(context.Background()); err != nil {
		t.Fatalf("Dimension: %v", err)
	}
	if calls != 1 {
		t.Errorf("probe calls = %d, want 1", calls)
	}
}

func TestLocalEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not found"))
	}))
	defer srv.Close()

	e := NewLocal(srv.URL, "bad-model", 16, zap.NewNop())
	if _, err := e.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("want error for server failure")
	}
}
