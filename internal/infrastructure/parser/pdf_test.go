package parser

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestPageBudget(t *testing.T) {
	cases := []struct {
		pages int
		want  time.Duration
	}{
		{0, 300 * time.Second},
		{99, 300 * time.Second},   // 不足一百页不加时
		{100, 305 * time.Second},
		{199, 305 * time.Second},
		{1000, 350 * time.Second},
		{30000, 1800 * time.Second},  // 正好到顶
		{300000, 1800 * time.Second}, // 超大文档封顶
	}
	for _, c := range cases {
		if got := pageBudget(c.pages); got != c.want {
			t.Errorf("pageBudget(%d) = %v, want %v", c.pages, got, c.want)
		}
	}
}

func TestTruncateRunesAtPageLimit(t *testing.T) {
	within := strings.Repeat("字", pdfMaxCharsPerPage)
	if got := truncateRunes(within, pdfMaxCharsPerPage); got != within {
		t.Error("text at the limit must pass through unchanged")
	}

	over := strings.Repeat("字", pdfMaxCharsPerPage+7)
	got := truncateRunes(over, pdfMaxCharsPerPage)
	if n := utf8.RuneCountInString(got); n != pdfMaxCharsPerPage {
		t.Errorf("truncated to %d runes, want %d", n, pdfMaxCharsPerPage)
	}
	// 按 rune 截断, 不得切出半个多字节字符
	if !utf8.ValidString(got) {
		t.Error("truncation produced invalid utf-8")
	}
}
