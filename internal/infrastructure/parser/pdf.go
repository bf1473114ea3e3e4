package parser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// 单页文本片段数超过此值说明版面病态, 退化为纯文本提取
	pdfMaxBlocksPerPage = 3000
	// 单页字符数上限, 超出截断
	pdfMaxCharsPerPage = 50000
	// 单页软超时, 超时跳过该页继续
	pdfPageSoftTimeout = 20 * time.Second
	// 页数达到此阈值时按页段并发解析
	pdfFanoutThreshold = 10
	// 同一行的 Y 坐标容差
	pdfLineTolerance = 2.0
)

var errPageTimeout = errors.New("page extraction timed out")

// PDF 解析器
// 阅读序排版: 先自上而下, 再自左而右; PDF 坐标原点在左下角
type PDF struct {
	logger *zap.Logger
}

// NewPDF 创建 PDF 解析器
func NewPDF(logger *zap.Logger) *PDF {
	return &PDF{logger: logger.Named("pdf")}
}

// Parse 解析整个文档
// 总预算 min(1800s, 300+5*(pages/100)); 大文档按页段并发, 每段独立打开文件
func (p *PDF) Parse(ctx context.Context, path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	pages := r.NumPage()
	f.Close()
	if pages == 0 {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, pageBudget(pages))
	defer cancel()

	out := make([]string, pages)
	if pages < pdfFanoutThreshold {
		if err := p.parseRange(ctx, path, 1, pages, out); err != nil {
			return "", err
		}
	} else {
		workers := min(runtime.GOMAXPROCS(0), 8)
		per := (pages + workers - 1) / workers
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for start := 1; start <= pages; start += per {
			start := start
			end := min(start+per-1, pages)
			g.Go(func() error {
				return p.parseRange(gctx, path, start, end, out)
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
	}

	nonEmpty := make([]string, 0, pages)
	for _, s := range out {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, "\n\n"), nil
}

// parseRange 解析一个页段, 独立打开文件避免共享 reader
func (p *PDF) parseRange(ctx context.Context, path string, start, end int, out []string) error {
	f, r, err := pdf.Open(path)
	if err != nil {
		return fmt.Errorf("open pdf for pages %d-%d: %w", start, end, err)
	}
	defer f.Close()

	for i := start; i <= end; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := p.extractPage(ctx, r, i)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 坏页跳过, 不拖垮整篇文档
			p.logger.Warn("pdf page skipped",
				zap.String("path", path), zap.Int("page", i), zap.Error(err))
			continue
		}
		out[i-1] = text
	}
	return nil
}

// extractPage 带软超时地提取单页, 解析 panic 折算为错误
func (p *PDF) extractPage(ctx context.Context, r *pdf.Reader, num int) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("page %d panicked: %v", num, rec)}
			}
		}()
		text, err := extractPageText(r, num)
		ch <- result{text: text, err: err}
	}()

	timer := time.NewTimer(pdfPageSoftTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", errPageTimeout
	case res := <-ch:
		return res.text, res.err
	}
}

func extractPageText(r *pdf.Reader, num int) (string, error) {
	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}

	texts := page.Content().Text
	if len(texts) > pdfMaxBlocksPerPage {
		// 版面病态, 放弃排序直接取纯文本
		plain, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		return truncateRunes(plain, pdfMaxCharsPerPage), nil
	}

	sort.SliceStable(texts, func(i, j int) bool {
		if math.Abs(texts[i].Y-texts[j].Y) > pdfLineTolerance {
			return texts[i].Y > texts[j].Y
		}
		return texts[i].X < texts[j].X
	})

	var sb strings.Builder
	lastY := math.Inf(1)
	for _, t := range texts {
		if lastY-t.Y > pdfLineTolerance && sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(t.S)
		lastY = t.Y
	}
	return truncateRunes(sb.String(), pdfMaxCharsPerPage), nil
}

// pageBudget 整篇文档的解析时间预算: min(1800s, 300s + 每百页加 5s)
func pageBudget(pages int) time.Duration {
	budget := 300 + 5*(pages/100)
	if budget > 1800 {
		budget = 1800
	}
	return time.Duration(budget) * time.Second
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
