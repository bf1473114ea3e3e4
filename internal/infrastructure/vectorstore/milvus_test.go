package vectorstore

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxBytes int
	}{
		{"ascii under limit", "hello", 10},
		{"ascii at limit", "hello", 5},
		{"ascii over limit", "hello world", 5},
		{"cjk clean cut", "你好世界", 6},
		{"cjk mid-rune cut", "你好世界", 7},
		{"cjk mid-rune cut 2", "你好世界", 8},
		{"mixed", "ab你好cd", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateUTF8(tt.input, tt.maxBytes)
			if len(got) > tt.maxBytes {
				t.Errorf("len = %d, exceeds %d", len(got), tt.maxBytes)
			}
			if !utf8.ValidString(got) {
				t.Errorf("result %q is not valid utf-8", got)
			}
			if !strings.HasPrefix(tt.input, got) {
				t.Errorf("result %q is not a prefix of input", got)
			}
		})
	}

	// 超长中文内容截到 1900 字节内且不产生乱码
	long := strings.Repeat("知识库检索", 200)
	got := truncateUTF8(long, previewMaxBytes)
	if len(got) > previewMaxBytes {
		t.Errorf("len = %d", len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncated preview is not valid utf-8")
	}
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in   float32
		want float64
	}{
		{1, 1},
		{-1, 0},
		{0, 0.5},
		{1.2, 1},  // 浮点误差越界钳回
		{-1.2, 0},
	}
	for _, tt := range tests {
		if got := normalizeIP(tt.in); got != tt.want {
			t.Errorf("normalizeIP(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
