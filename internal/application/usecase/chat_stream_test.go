package usecase

import (
	"errors"
	"strings"
	"testing"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

func collectTypes(events []StreamEvent) []string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestEmitterOpenFrames(t *testing.T) {
	em := newStreamEmitter()
	long := strings.Repeat("字", 600)
	events := em.Open("什么是向量检索", []valueobject.RetrievedChunk{
		{DocumentID: 7, FileName: "intro.md", Content: long, Score: 0.83, Source: "hybrid"},
		{DocumentID: 8, FileName: "guide.md", Content: "短文本", Score: 0.4, Source: "vector"},
	})
	if len(events) != 3 {
		t.Fatalf("expected 3 open frames, got %d", len(events))
	}
	if events[0].Type != SpeechSearchGuid {
		t.Fatalf("first frame should be searchGuid, got %s", events[0].Type)
	}
	first := events[1].Data.(contextPayload)
	if first.Index != 1 || first.DocID != 7 {
		t.Fatalf("unexpected context frame: %+v", first)
	}
	if got := len([]rune(first.Quote)); got != contextQuoteLimit {
		t.Fatalf("quote should be truncated to %d runes, got %d", contextQuoteLimit, got)
	}
	if first.Content != long {
		t.Fatal("content field should keep the full chunk text")
	}
	if first.RefSourceWeight != 4 {
		t.Fatalf("ref_source_weight = floor(0.83*5) = 4, got %d", first.RefSourceWeight)
	}
	second := events[2].Data.(contextPayload)
	if second.RefSourceWeight != 2 {
		t.Fatalf("ref_source_weight = floor(0.4*5) = 2, got %d", second.RefSourceWeight)
	}
}

func TestEmitterReasoningThenContent(t *testing.T) {
	em := newStreamEmitter()
	em.Open("q", nil)

	events := em.OnChunk(valueobject.StreamChunk{ReasoningDelta: "先想"})
	got := collectTypes(events)
	if len(got) != 2 || got[0] != SpeechReasoner || got[1] != SpeechThink {
		t.Fatalf("first reasoning delta should emit reasoner+think, got %v", got)
	}
	if think := events[1].Data.(thinkPayload); think.Status != 1 || think.Content != "先想" {
		t.Fatalf("unexpected think frame: %+v", think)
	}

	events = em.OnChunk(valueobject.StreamChunk{ReasoningDelta: "再想"})
	if got := collectTypes(events); len(got) != 1 || got[0] != SpeechThink {
		t.Fatalf("follow-up reasoning delta should emit think only, got %v", got)
	}

	events = em.OnChunk(valueobject.StreamChunk{ContentDelta: "答案"})
	if got := collectTypes(events); len(got) != 1 || got[0] != SpeechText {
		t.Fatalf("content after reasoning should emit text without header, got %v", got)
	}
	if text := events[0].Data.(textPayload); text.Msg != "答案" {
		t.Fatalf("unexpected text frame: %+v", text)
	}

	events = em.OnChunk(valueobject.StreamChunk{FinishReason: "stop"})
	if got := collectTypes(events); len(got) != 1 || got[0] != SpeechThink {
		t.Fatalf("finish after reasoning should emit closing think, got %v", got)
	}
	if think := events[0].Data.(thinkPayload); think.Status != 2 {
		t.Fatalf("closing think should carry status 2, got %+v", think)
	}

	fin := em.Finish("s-1").Data.(finishedPayload)
	if fin.FullAnswer != "答案" || fin.FullReasoningContent != "先想再想" {
		t.Fatalf("unexpected finished frame: %+v", fin)
	}
	if fin.SessionID != "s-1" {
		t.Fatalf("finished frame should carry session id, got %q", fin.SessionID)
	}
}

func TestEmitterContentOnlyPath(t *testing.T) {
	em := newStreamEmitter()
	em.Open("q", nil)

	events := em.OnChunk(valueobject.StreamChunk{ContentDelta: "你好"})
	got := collectTypes(events)
	if len(got) != 2 || got[0] != SpeechText || got[1] != SpeechText {
		t.Fatalf("first content without reasoning should emit header+text, got %v", got)
	}
	if head := events[0].Data.(textPayload); head.Msg != "" {
		t.Fatalf("header frame should carry empty msg, got %q", head.Msg)
	}

	events = em.OnChunk(valueobject.StreamChunk{
		FinishReason: "stop",
		Usage:        &valueobject.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	if len(events) != 0 {
		t.Fatalf("finish without reasoning should emit no think frame, got %v", collectTypes(events))
	}
	fin := em.Finish("s-2").Data.(finishedPayload)
	if fin.TokenUsage.TotalTokens != 15 {
		t.Fatalf("finished frame should carry usage, got %+v", fin.TokenUsage)
	}
	if fin.FullReasoningContent != "" {
		t.Fatal("content-only stream should have empty reasoning")
	}
}

func TestEmitterUpstreamError(t *testing.T) {
	em := newStreamEmitter()
	em.Open("q", nil)
	em.OnChunk(valueobject.StreamChunk{ContentDelta: "部分"})

	ev := em.OnError(errors.New("connection reset"))
	if ev.Type != SpeechText {
		t.Fatalf("error should surface as text frame, got %s", ev.Type)
	}
	text := ev.Data.(textPayload)
	if !strings.Contains(text.Msg, "connection reset") {
		t.Fatalf("error frame should carry the error string, got %q", text.Msg)
	}

	fin := em.Finish("s-3").Data.(finishedPayload)
	if !strings.HasPrefix(fin.FullAnswer, "部分") || !strings.Contains(fin.FullAnswer, "connection reset") {
		t.Fatalf("accumulated answer should keep partial content and error text, got %q", fin.FullAnswer)
	}
}
