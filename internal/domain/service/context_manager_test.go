package service

import (
	"strings"
	"testing"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

func TestBuildRAGPromptWithoutContexts(t *testing.T) {
	if got := BuildRAGPrompt("问题", nil); got != "问题" {
		t.Errorf("expected question unchanged, got %q", got)
	}
}

func TestBuildRAGPromptFormatsContexts(t *testing.T) {
	contexts := []valueobject.RetrievedChunk{
		{FileName: "a.md", Content: "第一段内容"},
		{FileName: "b.pdf", Content: "第二段内容"},
	}
	got := BuildRAGPrompt("退款要多久", contexts)

	for _, want := range []string{"[文档1] a.md", "[文档2] b.pdf", "第一段内容", "退款要多久", "知识库上下文"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestTrimToBudgetDropsOldestTurns(t *testing.T) {
	m := &ContextManager{maxTokens: EstimateTokens("新问题") + EstimateTokens("最近一问最近一答")*2 + 1}

	history := []valueobject.Message{
		{Role: "user", Content: "很久以前的问题很久以前的问题很久以前的问题"},
		{Role: "assistant", Content: "很久以前的回答很久以前的回答很久以前的回答"},
		{Role: "user", Content: "最近一问最近一答"},
		{Role: "assistant", Content: "最近一问最近一答"},
	}

	got := m.trimToBudget(history, "", "新问题")
	if len(got) != 2 {
		t.Fatalf("expected oldest turn dropped, got %d messages", len(got))
	}
	if got[0].Content != "最近一问最近一答" {
		t.Errorf("wrong surviving message: %q", got[0].Content)
	}
}

func TestTrimToBudgetDisabled(t *testing.T) {
	m := &ContextManager{maxTokens: 0}
	history := []valueobject.Message{{Role: "user", Content: strings.Repeat("长", 10000)}}
	if got := m.trimToBudget(history, "", "q"); len(got) != 1 {
		t.Errorf("expected no trimming when budget disabled, got %d", len(got))
	}
}
