package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) (*OpenAIProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewOpenAIProvider(ProviderConfig{Tag: "openai", BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())
	return p, srv
}

func chatReq() valueobject.ChatRequest {
	return valueobject.ChatRequest{
		Model:    "gpt-test",
		Messages: []valueobject.Message{{Role: "user", Content: "你好"}},
	}
}

func TestOpenAIChat(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"你好！"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`)
	})

	resp, err := p.Chat(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "你好！" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("total tokens = %d, want 8", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

func TestOpenAIChatEmptyChoices(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := p.Chat(context.Background(), chatReq())
	llmErr := service.ClassifyError(err, "", "")
	if llmErr == nil || llmErr.Kind != service.ErrKindBusiness {
		t.Fatalf("want business error, got %v", err)
	}
}

func TestOpenAIChatRetriesOn500(t *testing.T) {
	var calls atomic.Int32
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"model":"gpt-test","choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"usage":{"total_tokens":1}}`)
	})

	resp, err := p.Chat(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestOpenAIChatAuthFatal(t *testing.T) {
	var calls atomic.Int32
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid key"}}`)
	})

	_, err := p.Chat(context.Background(), chatReq())
	llmErr := service.ClassifyError(err, "", "")
	if llmErr.Kind != service.ErrKindAuth {
		t.Fatalf("kind = %v, want auth", llmErr.Kind)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, auth errors must not retry", got)
	}
}

func TestOpenAIChatStream(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`data: {"model":"gpt-test","choices":[{"delta":{"reasoning_content":"想"},"finish_reason":null}]}`,
			`data: {"choices":[{"delta":{"content":"你"},"finish_reason":null}]}`,
			`data: {"choices":[{"delta":{"content":"好"},"finish_reason":null}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`,
			`data: [DONE]`,
		} {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	})

	deltaCh := make(chan valueobject.StreamChunk, 16)
	resp, err := p.ChatStream(context.Background(), chatReq(), deltaCh)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var contents, reasonings []string
	var finish string
	for chunk := range deltaCh {
		if chunk.ContentDelta != "" {
			contents = append(contents, chunk.ContentDelta)
		}
		if chunk.ReasoningDelta != "" {
			reasonings = append(reasonings, chunk.ReasoningDelta)
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if got := strings.Join(contents, ""); got != "你好" {
		t.Errorf("streamed content = %q", got)
	}
	if got := strings.Join(reasonings, ""); got != "想" {
		t.Errorf("streamed reasoning = %q", got)
	}
	if finish != "stop" {
		t.Errorf("finish = %q", finish)
	}
	if resp.Content != "你好" || resp.ReasoningContent != "想" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestOpenAIChatStreamFinishWithoutDone(t *testing.T) {
	// 部分兼容端点发完 finish_reason 后既不发 [DONE] 也不关连接
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	})

	deltaCh := make(chan valueobject.StreamChunk, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := p.ChatStream(ctx, chatReq(), deltaCh)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	for range deltaCh {
	}
	if resp.Content != "hi" || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAIChatStreamCancel(t *testing.T) {
	started := make(chan struct{})
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	deltaCh := make(chan valueobject.StreamChunk, 16)
	done := make(chan error, 1)
	go func() {
		_, err := p.ChatStream(ctx, chatReq(), deltaCh)
		done <- err
	}()
	for range deltaCh {
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("want error after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate after cancel")
	}
}

func TestOpenAIEmbed(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("path = %q", r.URL.Path)
		}
		// 乱序返回, 应按 index 归位
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0.3,0.4]},{"index":0,"embedding":[0.1,0.2]}]}`)
	})

	vecs, err := p.Embed(context.Background(), []string{"a", "b"}, "embed-test")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 0.1 || vecs[1][0] != 0.3 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.1]}]}`)
	})

	_, err := p.Embed(context.Background(), []string{"a", "b"}, "embed-test")
	if err == nil {
		t.Fatal("want count mismatch error")
	}
}

func TestOpenAIRerank(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"index":2,"relevance_score":0.9},{"index":0,"relevance_score":0.4}]}`)
	})

	results, err := p.Rerank(context.Background(), "q", []string{"a", "b", "c"}, "rerank-test", 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 2 || results[0].Index != 2 || results[0].Score != 0.9 {
		t.Errorf("results = %v", results)
	}
}

func TestExtraParamsFlattened(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		if !strings.Contains(string(body), `"top_p":0.9`) {
			t.Errorf("extra param not flattened: %s", body)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	})

	req := chatReq()
	req.ExtraParams = map[string]interface{}{"top_p": 0.9}
	if _, err := p.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestRegistryFallbackToOpenAI(t *testing.T) {
	p := New(ProviderConfig{Tag: "some-unknown-vendor", APIKey: "k"}, zap.NewNop())
	if _, ok := p.(*OpenAIProvider); !ok {
		t.Fatalf("unknown tag should fall back to openai-compatible, got %T", p)
	}
}
