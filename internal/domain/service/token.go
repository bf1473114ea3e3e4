package service

import "unicode/utf8"

// EstimateTokens 估算文本 token 数
// 粗略规则: 1 token ≈ 2 个 CJK 字符或 3 个 ASCII 字节;
// rune 数近似字符数, 字节数与 rune 数之差近似多字节字符的额外体积
func EstimateTokens(text string) int {
	runes := utf8.RuneCountInString(text)
	bytes := len(text)
	return runes/2 + (bytes-runes)/3
}

// EstimateMessagesTokens 估算消息列表的总 token 数
func EstimateMessagesTokens(contents ...string) int {
	total := 0
	for _, c := range contents {
		total += EstimateTokens(c)
	}
	return total
}
