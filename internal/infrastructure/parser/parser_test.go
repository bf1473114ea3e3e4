package parser

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestTextParserReplacesInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(path, []byte{'a', 0xff, 'b'}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := (&Text{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if out != "a�b" {
		t.Errorf("out = %q", out)
	}
}

func TestHTMLParserStripsChrome(t *testing.T) {
	path := writeTempFile(t, "page.html", `<html>
<head><title>忽略标题</title><style>p{color:red}</style></head>
<body>
<header>站点页眉</header>
<script>alert("忽略脚本")</script>
<h1>检索系统</h1>
<p>第一段。</p>
<div>第二段。</div>
<footer>版权页脚</footer>
</body></html>`)

	out, err := (&HTML{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, banned := range []string{"忽略标题", "忽略脚本", "站点页眉", "版权页脚", "color:red"} {
		if strings.Contains(out, banned) {
			t.Errorf("output contains %q: %s", banned, out)
		}
	}
	if !strings.Contains(out, "检索系统") || !strings.Contains(out, "第一段。") {
		t.Errorf("body text missing: %s", out)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("newlines not collapsed: %q", out)
	}
	idx1 := strings.Index(out, "第一段。")
	idx2 := strings.Index(out, "第二段。")
	if idx1 > idx2 {
		t.Error("paragraph order lost")
	}
}

const docxDocumentXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>概述</w:t></w:r></w:p>
<w:p><w:r><w:t>这是正文</w:t></w:r><w:r><w:t>段落。</w:t></w:r></w:p>
<w:tbl>
<w:tr><w:tc><w:p><w:r><w:t>名称</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>数量</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>苹果</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>3</w:t></w:r></w:p></w:tc></w:tr>
</w:tbl>
</w:body>
</w:document>`

func writeTempDocx(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create docx: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(docxDocumentXML)); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestDocxParserHeadingsAndTables(t *testing.T) {
	out, err := (&Docx{}).Parse(context.Background(), writeTempDocx(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(out, "# 概述") {
		t.Errorf("heading not converted: %s", out)
	}
	if !strings.Contains(out, "这是正文段落。") {
		t.Errorf("runs not merged: %s", out)
	}
	if !strings.Contains(out, "| 名称 | 数量 |") || !strings.Contains(out, "| --- | --- |") {
		t.Errorf("table not converted: %s", out)
	}
	if !strings.Contains(out, "| 苹果 | 3 |") {
		t.Errorf("table body missing: %s", out)
	}
}

func TestHeadingLevel(t *testing.T) {
	cases := map[string]int{
		"Heading1": 1,
		"heading3": 3,
		"Heading6": 6,
		"Heading9": 0, // Markdown 只到六级
		"Normal":   0,
		"":         0,
	}
	for style, want := range cases {
		if got := headingLevel(style); got != want {
			t.Errorf("headingLevel(%q) = %d, want %d", style, got, want)
		}
	}
}

func TestDispatcherUnsupportedExt(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	if _, err := d.Parse(context.Background(), "/tmp/x.exe", ".exe"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestDispatcherRoutesByExtension(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	path := writeTempFile(t, "note.md", "# 标题\n正文")
	out, err := d.Parse(context.Background(), path, ".MD")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if out != "# 标题\n正文" {
		t.Errorf("out = %q", out)
	}
}

func TestTruncateRunes(t *testing.T) {
	s := strings.Repeat("汉", 100)
	if got := truncateRunes(s, 10); len([]rune(got)) != 10 {
		t.Errorf("truncated to %d runes", len([]rune(got)))
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}
