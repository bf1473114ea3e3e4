package service

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitEmptyText(t *testing.T) {
	s := NewSplitter(500, 50)
	if got := s.Split(""); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
	if got := s.Split("   \n\n  "); got != nil {
		t.Fatalf("expected nil for whitespace-only text, got %v", got)
	}
}

func TestSplitShortText(t *testing.T) {
	s := NewSplitter(500, 50)
	got := s.Split("短文本不需要切分。")
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %v", len(got), got)
	}
	if got[0] != "短文本不需要切分。" {
		t.Errorf("chunk altered: %q", got[0])
	}
}

func TestSplitRespectsChunkSize(t *testing.T) {
	// 构造 20 个句子, 每句 12 个字符(含句号)
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("这是一个测试句子内容")
		b.WriteString("。")
	}
	s := NewSplitter(50, 10)
	chunks := s.Split(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 50 {
			t.Errorf("chunk %d exceeds size: %d runes: %q", i, n, c)
		}
	}
}

func TestSplitParagraphPriority(t *testing.T) {
	// 双换行优先于单换行: 段落边界处必须切开
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)
	s := NewSplitter(40, 0)
	chunks := s.Split(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks at paragraph boundary, got %d: %v", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[0], "a") || !strings.HasPrefix(chunks[1], "b") {
		t.Errorf("paragraphs mixed: %v", chunks)
	}
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	// 句子长 10, chunk 25, overlap 12: 产出片后应带上一句到下一片
	var parts []string
	for i := 0; i < 6; i++ {
		parts = append(parts, strings.Repeat(string(rune('a'+i)), 10))
	}
	text := strings.Join(parts, " ")
	s := NewSplitter(25, 12)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %v", chunks)
	}
	// 相邻片应有重叠内容
	overlapped := false
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])-10:]
		if strings.Contains(chunks[i], prevTail) {
			overlapped = true
			break
		}
	}
	if !overlapped {
		t.Errorf("no overlap carried between chunks: %v", chunks)
	}
}

func TestSplitOversizedPieceWithoutSeparators(t *testing.T) {
	// 没有任何分隔符的超长串: 退化到逐字符切分, 仍按 chunk_size 产片
	text := strings.Repeat("x", 120)
	s := NewSplitter(50, 5)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected split of separator-free text, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 50 {
			t.Errorf("chunk %d exceeds size: %d", i, n)
		}
	}
	// 重组后不丢内容
	total := 0
	for _, c := range chunks {
		total += utf8.RuneCountInString(c)
	}
	if total < 120 {
		t.Errorf("content lost: reassembled %d of 120 runes", total)
	}
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	// 100 个中文字符 = 300 字节; chunk_size 60 按 rune 计应只切两刀左右
	text := strings.Repeat("汉", 100)
	s := NewSplitter(60, 0)
	chunks := s.Split(text)
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 60 {
			t.Errorf("chunk %d has %d runes, limit 60", i, n)
		}
	}
	if len(chunks) > 3 {
		t.Errorf("over-split: byte length likely used instead of runes, got %d chunks", len(chunks))
	}
}

func TestNewSplitterSanitizesParams(t *testing.T) {
	s := NewSplitter(0, -1)
	if s.chunkSize != 500 {
		t.Errorf("chunkSize fallback wrong: %d", s.chunkSize)
	}
	if s.chunkOverlap >= s.chunkSize {
		t.Errorf("overlap %d not smaller than size %d", s.chunkOverlap, s.chunkSize)
	}
}
