package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []byte, 1)
	go m.Subscribe(ctx, TopicDocParsed, GroupSplitter, func(_ context.Context, payload []byte) error {
		got <- payload
		return nil
	})

	msg, _ := json.Marshal(DocParsedMessage{DocumentID: 7, Content: "正文", KnowledgeID: 1, FileName: "a.md"})
	// 订阅循环启动前的短暂窗口由 pending 补投覆盖, 无需同步
	if err := m.Publish(ctx, TopicDocParsed, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case payload := <-got:
		var parsed DocParsedMessage
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if parsed.DocumentID != 7 || parsed.Content != "正文" {
			t.Errorf("payload = %+v", parsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	cancel()
}

func TestMemoryPendingBeforeSubscribe(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	if err := m.Publish(context.Background(), TopicDocUpload, []byte(`{"document_id":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := make(chan struct{})
	go m.Subscribe(ctx, TopicDocUpload, GroupParser, func(_ context.Context, _ []byte) error {
		close(got)
		return nil
	})

	select {
	case <-got:
	case <-ctx.Done():
		t.Fatal("pending message not replayed to late subscriber")
	}
}

func TestMemoryRetriesThenDrops(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go m.Subscribe(ctx, TopicRecallTest, GroupRecall, func(_ context.Context, _ []byte) error {
		if calls.Add(1) == int32(memoryMaxAttempts) {
			defer close(done)
		}
		return errors.New("boom")
	})

	if err := m.Publish(ctx, TopicRecallTest, []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("handler not retried")
	}
	if n := calls.Load(); n != int32(memoryMaxAttempts) {
		t.Errorf("calls = %d, want %d", n, memoryMaxAttempts)
	}
}

func TestMemoryOversizedMessage(t *testing.T) {
	m := NewMemory(zap.NewNop())
	defer m.Close()

	big := make([]byte, MaxMessageBytes+1)
	if err := m.Publish(context.Background(), TopicDocChunks, big); err == nil {
		t.Fatal("expected error for oversized message")
	}
}

func TestMemoryCloseUnblocksSubscriber(t *testing.T) {
	m := NewMemory(zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- m.Subscribe(context.Background(), TopicDocParsed, GroupSplitter, func(_ context.Context, _ []byte) error {
			return nil
		})
	}()
	time.Sleep(50 * time.Millisecond)
	m.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Subscribe after Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after Close")
	}
}
