package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Text 纯文本与 Markdown 解析器
// 非法 UTF-8 字节替换为 U+FFFD, 不中断解析
type Text struct{}

// Parse 读取文件内容
func (t *Text) Parse(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}
