package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

func testChunks() []valueobject.Chunk {
	return []valueobject.Chunk{
		{ChunkID: "1_0", DocumentID: 1, KnowledgeID: 2, ChunkIndex: 0, Content: "第一段", FileName: "a.md"},
		{ChunkID: "1_1", DocumentID: 1, KnowledgeID: 2, ChunkIndex: 1, Content: "第二段", FileName: "a.md", Heading: "概述"},
	}
}

func newTestElastic(t *testing.T, handler http.HandlerFunc) *Elastic {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e, err := NewElastic([]string{srv.URL}, "", "", "test_chunks", zap.NewNop())
	if err != nil {
		t.Fatalf("NewElastic: %v", err)
	}
	return e
}

func TestEnsureIndexFallsBackToStandard(t *testing.T) {
	var createdMapping string
	e := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/_analyze"):
			// IK 插件缺失
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"reason":"failed to find global analyzer [ik_max_word]"}}`))
		case r.Method == http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			createdMapping = string(body)
			w.Write([]byte(`{"acknowledged":true}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	if err := e.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if !e.Degraded() {
		t.Error("expected degraded mode without ik")
	}
	if strings.Contains(createdMapping, "ik_max_word") {
		t.Errorf("degraded mapping must not reference ik: %s", createdMapping)
	}
	if !strings.Contains(createdMapping, `"standard"`) {
		t.Errorf("degraded mapping should use standard analyzer: %s", createdMapping)
	}
}

func TestEnsureIndexWithIK(t *testing.T) {
	var createdMapping string
	e := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/_analyze"):
			w.Write([]byte(`{"tokens":[{"token":"中文"}]}`))
		case r.Method == http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			createdMapping = string(body)
			w.Write([]byte(`{"acknowledged":true}`))
		}
	})

	if err := e.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if e.Degraded() {
		t.Error("ik available, must not be degraded")
	}
	if !strings.Contains(createdMapping, "ik_max_word") || !strings.Contains(createdMapping, "ik_smart") {
		t.Errorf("mapping should use ik analyzers: %s", createdMapping)
	}
}

func TestSearchChunksNormalizesScore(t *testing.T) {
	e := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["size"].(float64) != 5 {
			t.Errorf("size = %v", body["size"])
		}
		w.Write([]byte(`{"hits":{"hits":[
			{"_score":3.0,"_source":{"chunk_id":"1_0","document_id":1,"knowledge_id":2,"chunk_index":0,"content":"向量检索简介","metadata":{"file_name":"a.md"}}},
			{"_score":1.0,"_source":{"chunk_id":"1_1","document_id":1,"knowledge_id":2,"chunk_index":1,"content":"关键词检索简介","metadata":{"file_name":"a.md"}}}
		]}}`))
	})

	results, err := e.SearchChunks(context.Background(), "检索", []uint{2}, 5)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Score != 0.75 {
		t.Errorf("score = %v, want 3/(3+1)", results[0].Score)
	}
	if results[0].Source != "keyword" {
		t.Errorf("source = %q", results[0].Source)
	}
	if results[0].FileName != "a.md" {
		t.Errorf("file name = %q", results[0].FileName)
	}
}

func TestGetChunksByIDs(t *testing.T) {
	e := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Write([]byte(`{"docs":[
			{"_id":"1_0","found":true,"_source":{"chunk_id":"1_0","document_id":1,"content":"完整内容","metadata":{"file_name":"a.md"}}},
			{"_id":"9_9","found":false}
		]}`))
	})

	out, err := e.GetChunksByIDs(context.Background(), []string{"1_0", "9_9"})
	if err != nil {
		t.Fatalf("GetChunksByIDs: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d docs, want 1", len(out))
	}
	if out["1_0"].Content != "完整内容" {
		t.Errorf("content = %q", out["1_0"].Content)
	}
	if _, ok := out["9_9"]; ok {
		t.Error("missing doc must be absent from map")
	}
}

func TestGetChunkByIDNotFound(t *testing.T) {
	e := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"found":false}`))
	})

	rc, err := e.GetChunkByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetChunkByID: %v", err)
	}
	if rc != nil {
		t.Errorf("rc = %+v, want nil", rc)
	}
}

func TestIndexChunksBulkItemError(t *testing.T) {
	e := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Write([]byte(`{"errors":true,"items":[{"index":{"error":{"type":"mapper_parsing_exception","reason":"bad field"}}}]}`))
	})

	err := e.IndexChunks(context.Background(), testChunks())
	if err == nil || !strings.Contains(err.Error(), "mapper_parsing_exception") {
		t.Fatalf("err = %v", err)
	}
}

func TestIndexChunksEmpty(t *testing.T) {
	e := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batch")
	})
	if err := e.IndexChunks(context.Background(), nil); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}
}
