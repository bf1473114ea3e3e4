package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

func newTestMiniMax(t *testing.T, handler http.HandlerFunc) *MiniMaxProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewMiniMaxProvider(ProviderConfig{Tag: "minimax", BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
}

func TestMiniMaxBaseRespError(t *testing.T) {
	p := newTestMiniMax(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"base_resp":{"status_code":1004,"status_msg":"invalid api key"}}`)
	})

	_, err := p.Chat(context.Background(), chatReq())
	llmErr := service.ClassifyError(err, "", "")
	if llmErr == nil || llmErr.Kind != service.ErrKindAuth {
		t.Fatalf("want auth error, got %v", err)
	}
}

func TestMiniMaxContentFiltered(t *testing.T) {
	p := newTestMiniMax(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"base_resp":{"status_code":1027,"status_msg":"content filtered"}}`)
	})

	resp, err := p.Chat(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("filtered content must not be a hard error: %v", err)
	}
	if resp.Content != minimaxFilteredPlaceholder {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "content_filter" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

func TestMiniMaxRequestAdjust(t *testing.T) {
	var captured map[string]interface{}
	p := newTestMiniMax(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	})

	req := chatReq()
	req.Temperature = 0
	req.MaxTokens = 1024
	if _, err := p.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if temp, _ := captured["temperature"].(float64); temp != 0.01 {
		t.Errorf("temperature = %v, want clamp to 0.01", captured["temperature"])
	}
	if ttg, _ := captured["tokens_to_generate"].(float64); ttg != 1024 {
		t.Errorf("tokens_to_generate = %v", captured["tokens_to_generate"])
	}
}

func TestMiniMaxModelAlias(t *testing.T) {
	// 官方端点才套别名
	official := NewMiniMaxProvider(ProviderConfig{Tag: "minimax", APIKey: "k"}, zap.NewNop())
	req := chatReq()
	req.Model = "minimax-2.1"
	if got := official.adjust(req).Model; got != "abab6.5s-chat" {
		t.Errorf("official host alias = %q", got)
	}

	custom := NewMiniMaxProvider(ProviderConfig{Tag: "minimax", BaseURL: "http://localhost:9999", APIKey: "k"}, zap.NewNop())
	if got := custom.adjust(req).Model; got != "minimax-2.1" {
		t.Errorf("custom host must not alias, got %q", got)
	}
}

func TestMiniMaxStreamFilteredPlaceholder(t *testing.T) {
	p := newTestMiniMax(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"content_filter\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	deltaCh := make(chan valueobject.StreamChunk, 16)
	resp, err := p.ChatStream(context.Background(), chatReq(), deltaCh)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	var got string
	for chunk := range deltaCh {
		got += chunk.ContentDelta
	}
	if got != minimaxFilteredPlaceholder {
		t.Errorf("streamed = %q", got)
	}
	if resp.Content != minimaxFilteredPlaceholder {
		t.Errorf("resp content = %q", resp.Content)
	}
}
