package parser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// 不进入文本的标签
var htmlSkipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"head": true, "header": true, "footer": true, "nav": true,
}

// 结束后换行的块级标签
var htmlBlockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "table": true, "ul": true, "ol": true,
	"blockquote": true, "pre": true, "br": true,
}

var multiNewline = regexp.MustCompile(`\n{3,}`)

// HTML 网页解析器: 去脚本样式与页眉页脚, 按块级标签断行
type HTML struct{}

// Parse 提取网页正文
func (h *HTML) Parse(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open html file: %w", err)
	}
	defer f.Close()

	root, err := html.Parse(f)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	h.extract(root, &sb)

	out := multiNewline.ReplaceAllString(sb.String(), "\n\n")
	return strings.TrimSpace(out), nil
}

func (h *HTML) extract(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && htmlSkipTags[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		h.extract(c, sb)
	}
	if n.Type == html.ElementNode && htmlBlockTags[n.Data] {
		sb.WriteByte('\n')
	}
}
