package parser

import (
	"context"
	"strings"

	"go.uber.org/zap"

	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// Parser 从原始文件提取文本
// docx 的标题与表格转写成 Markdown, 其余格式输出纯文本
type Parser interface {
	Parse(ctx context.Context, path string) (string, error)
}

// Dispatcher 按扩展名分发到具体解析器
type Dispatcher struct {
	parsers map[string]Parser
}

// NewDispatcher 创建解析分发器
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	text := &Text{}
	return &Dispatcher{
		parsers: map[string]Parser{
			".txt":  text,
			".md":   text,
			".html": &HTML{},
			".docx": &Docx{},
			".pdf":  NewPDF(logger),
		},
	}
}

// Parse 解析文件, ext 为小写扩展名(含点)
func (d *Dispatcher) Parse(ctx context.Context, path, ext string) (string, error) {
	p, ok := d.parsers[strings.ToLower(ext)]
	if !ok {
		return "", domainErrors.NewInvalidInputError("不支持解析的文件类型: " + ext)
	}
	return p.Parse(ctx, path)
}
