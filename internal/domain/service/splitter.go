package service

import (
	"strings"
	"unicode/utf8"
)

// 递归切分的分隔符优先级, 从段落到句读再到空格, 最后逐字符兜底
var defaultSeparators = []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}

// Splitter 递归字符切分器
// 长度一律按 rune 计: 中文语料按字符数对齐切片大小, 不受 UTF-8 编码宽度影响
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter 创建切分器; 非法参数回落到 500/50
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 50
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 10
		}
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split 把文本切成若干片段
// 算法: 找到第一个在文本中出现的分隔符切开; 仍超长的片段用剩余分隔符递归;
// 相邻小片段贪心合并, 并把 ≤ chunk_overlap 的尾部带入下一片
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.splitText(text, s.separators)
}

func (s *Splitter) splitText(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			remaining = nil
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	var splits []string
	if separator == "" {
		splits = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		splits = strings.Split(text, separator)
	}

	var final []string
	var good []string
	for _, piece := range splits {
		if utf8.RuneCountInString(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good, separator)...)
			good = nil
		}
		if len(remaining) == 0 {
			// 没有更细的分隔符了, 超长片段原样保留
			final = append(final, piece)
		} else {
			final = append(final, s.splitText(piece, remaining)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, separator)...)
	}
	return final
}

// merge 贪心合并小片段: 运行长度不超过 chunk_size,
// 产出一片后从头部弹出直到剩余 ≤ chunk_overlap, 余下作为下一片的开头
func (s *Splitter) merge(splits []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)

	var docs []string
	var current []string
	total := 0

	for _, d := range splits {
		l := utf8.RuneCountInString(d)
		add := 0
		if len(current) > 0 {
			add = sepLen
		}
		if total+l+add > s.chunkSize && len(current) > 0 {
			if doc := joinStrip(current, separator); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.chunkOverlap || (overflows(total, l, sepLen, len(current), s.chunkSize) && total > 0) {
				dec := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					dec += sepLen
				}
				total -= dec
				current = current[1:]
			}
		}
		current = append(current, d)
		total += l
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc := joinStrip(current, separator); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func overflows(total, pieceLen, sepLen, currentLen, chunkSize int) bool {
	add := 0
	if currentLen > 0 {
		add = sepLen
	}
	return total+pieceLen+add > chunkSize
}

func joinStrip(parts []string, separator string) string {
	return strings.TrimSpace(strings.Join(parts, separator))
}
