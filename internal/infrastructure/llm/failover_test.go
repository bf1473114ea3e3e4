package llm

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// fakeProvider 可编程的假提供商
type fakeProvider struct {
	tag        string
	chatResp   *valueobject.ChatResponse
	chatErr    error
	streamErr  error
	deltas     []valueobject.StreamChunk
	chatCalls  int
	streamReqs []valueobject.ChatRequest
}

func (f *fakeProvider) Tag() string { return f.tag }

func (f *fakeProvider) Chat(ctx context.Context, req valueobject.ChatRequest) (*valueobject.ChatResponse, error) {
	f.chatCalls++
	return f.chatResp, f.chatErr
}

func (f *fakeProvider) ChatStream(ctx context.Context, req valueobject.ChatRequest, deltaCh chan<- valueobject.StreamChunk) (*valueobject.ChatResponse, error) {
	defer close(deltaCh)
	f.streamReqs = append(f.streamReqs, req)
	for _, d := range f.deltas {
		deltaCh <- d
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.chatResp, nil
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return nil, f.chatErr
}

func (f *fakeProvider) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]valueobject.RerankResult, error) {
	return nil, f.chatErr
}

func (f *fakeProvider) CountTokens(text string) int { return len(text) }

func transientErr() error {
	return &service.LLMError{Kind: service.ErrKindTransient, Message: "boom"}
}

func TestFailoverChat(t *testing.T) {
	primary := &fakeProvider{tag: "p", chatErr: transientErr()}
	fallback := &fakeProvider{tag: "f", chatResp: &valueobject.ChatResponse{Content: "备用"}}
	fo := NewFailoverProvider(primary, fallback, "fb-model", zap.NewNop())

	resp, err := fo.Chat(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "备用" {
		t.Errorf("content = %q", resp.Content)
	}
	if fallback.chatCalls != 1 {
		t.Errorf("fallback calls = %d", fallback.chatCalls)
	}
}

func TestFailoverChatSkipsCancelled(t *testing.T) {
	primary := &fakeProvider{tag: "p", chatErr: &service.LLMError{Kind: service.ErrKindCancelled, Message: "cancelled"}}
	fallback := &fakeProvider{tag: "f", chatResp: &valueobject.ChatResponse{Content: "备用"}}
	fo := NewFailoverProvider(primary, fallback, "", zap.NewNop())

	if _, err := fo.Chat(context.Background(), chatReq()); err == nil {
		t.Fatal("want error")
	}
	if fallback.chatCalls != 0 {
		t.Errorf("cancelled request must not fail over, fallback calls = %d", fallback.chatCalls)
	}
}

func TestFailoverStreamTakeoverBeforeFirstDelta(t *testing.T) {
	primary := &fakeProvider{tag: "p", streamErr: transientErr()}
	fallback := &fakeProvider{
		tag:      "f",
		deltas:   []valueobject.StreamChunk{{ContentDelta: "备用回答"}},
		chatResp: &valueobject.ChatResponse{Content: "备用回答"},
	}
	fo := NewFailoverProvider(primary, fallback, "fb-model", zap.NewNop())

	deltaCh := make(chan valueobject.StreamChunk, 16)
	resp, err := fo.ChatStream(context.Background(), chatReq(), deltaCh)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var got string
	for chunk := range deltaCh {
		got += chunk.ContentDelta
	}
	if got != "备用回答" {
		t.Errorf("streamed = %q", got)
	}
	if resp.Content != "备用回答" {
		t.Errorf("resp content = %q", resp.Content)
	}
	if len(fallback.streamReqs) != 1 || fallback.streamReqs[0].Model != "fb-model" {
		t.Errorf("fallback stream reqs = %+v", fallback.streamReqs)
	}
}

func TestFailoverStreamNoTakeoverAfterFirstDelta(t *testing.T) {
	primary := &fakeProvider{
		tag:       "p",
		deltas:    []valueobject.StreamChunk{{ContentDelta: "部分"}},
		streamErr: transientErr(),
	}
	fallback := &fakeProvider{tag: "f", chatResp: &valueobject.ChatResponse{Content: "备用"}}
	fo := NewFailoverProvider(primary, fallback, "", zap.NewNop())

	deltaCh := make(chan valueobject.StreamChunk, 16)
	_, err := fo.ChatStream(context.Background(), chatReq(), deltaCh)
	if err == nil {
		t.Fatal("want primary error surfaced")
	}
	for range deltaCh {
	}
	if len(fallback.streamReqs) != 0 {
		t.Errorf("stream with yielded deltas must not fail over")
	}
}

func TestFailoverStreamPrimarySuccess(t *testing.T) {
	primary := &fakeProvider{
		tag:      "p",
		deltas:   []valueobject.StreamChunk{{ContentDelta: "主"}, {FinishReason: "stop"}},
		chatResp: &valueobject.ChatResponse{Content: "主", FinishReason: "stop"},
	}
	fallback := &fakeProvider{tag: "f"}
	fo := NewFailoverProvider(primary, fallback, "", zap.NewNop())

	deltaCh := make(chan valueobject.StreamChunk, 16)
	resp, err := fo.ChatStream(context.Background(), chatReq(), deltaCh)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	count := 0
	for range deltaCh {
		count++
	}
	if count != 2 {
		t.Errorf("forwarded %d chunks, want 2", count)
	}
	if resp.Content != "主" {
		t.Errorf("resp = %+v", resp)
	}
}
