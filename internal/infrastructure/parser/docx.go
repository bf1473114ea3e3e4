package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Docx Word 文档解析器
// 标题样式转为 Markdown 标题, 表格转为 Markdown 管道表格
type Docx struct{}

// Parse 解析 word/document.xml
func (d *Docx) Parse(_ context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("open document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("docx missing word/document.xml")
	}
	defer docXML.Close()

	return d.walk(xml.NewDecoder(docXML))
}

func (d *Docx) walk(dec *xml.Decoder) (string, error) {
	var (
		doc       strings.Builder
		curPara   strings.Builder
		curCell   strings.Builder
		curStyle  string
		curRow    []string
		tableRows [][]string
		inTable   bool
		inText    bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				inTable = true
				tableRows = nil
			case "tr":
				if inTable {
					curRow = nil
				}
			case "tc":
				curCell.Reset()
			case "p":
				curPara.Reset()
				curStyle = ""
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						curStyle = attr.Value
					}
				}
			case "t":
				inText = true
			case "tab":
				curPara.WriteByte('\t')
			case "br":
				curPara.WriteByte('\n')
			}

		case xml.CharData:
			if inText {
				curPara.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(curPara.String())
				if inTable {
					if text != "" {
						if curCell.Len() > 0 {
							curCell.WriteByte(' ')
						}
						curCell.WriteString(text)
					}
				} else if text != "" {
					if level := headingLevel(curStyle); level > 0 {
						doc.WriteString(strings.Repeat("#", level))
						doc.WriteByte(' ')
					}
					doc.WriteString(text)
					doc.WriteString("\n\n")
				}
			case "tc":
				curRow = append(curRow, strings.TrimSpace(curCell.String()))
			case "tr":
				if inTable && len(curRow) > 0 {
					tableRows = append(tableRows, curRow)
				}
			case "tbl":
				inTable = false
				writeMarkdownTable(&doc, tableRows)
			}
		}
	}

	return strings.TrimSpace(doc.String()), nil
}

// headingLevel 从段落样式推断标题级别, 非标题返回 0
func headingLevel(style string) int {
	lower := strings.ToLower(style)
	if !strings.HasPrefix(lower, "heading") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(lower, "heading")))
	if err != nil || n < 1 || n > 6 {
		return 0
	}
	return n
}

// writeMarkdownTable 把表格行转写为管道表格, 首行视为表头
func writeMarkdownTable(sb *strings.Builder, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	writeRow := func(cells []string) {
		sb.WriteByte('|')
		for _, c := range cells {
			sb.WriteByte(' ')
			sb.WriteString(strings.ReplaceAll(c, "|", "\\|"))
			sb.WriteString(" |")
		}
		sb.WriteByte('\n')
	}
	writeRow(rows[0])
	sb.WriteByte('|')
	for range rows[0] {
		sb.WriteString(" --- |")
	}
	sb.WriteByte('\n')
	for _, row := range rows[1:] {
		writeRow(row)
	}
	sb.WriteByte('\n')
}
