package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
)

// 一元调用的最大尝试次数
const maxAttempts = 3

// Retry-After 提示的上限
const maxRetryAfter = 30 * time.Second

// 流式读取的空闲超时: 连续无数据超过该时长视为流已僵死
const streamIdleTimeout = 60 * time.Second

// newHTTPClient 构建提供商共用的 HTTP 客户端
// 传输层分段超时, 不设整体 Timeout: 长推理与流式响应不能被整体超时杀掉,
// 取消一律靠 context + 强制关 body
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// postJSONRetry 发 JSON POST 并套用重试阶梯
// 可重试错误(超时/连接/429/5xx)最多尝试 3 次, 退避 2^attempt 秒,
// Retry-After 提示优先且上限 30s; 401/403/400 直接失败
func postJSONRetry(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte, provider, model string, logger *zap.Logger) ([]byte, error) {
	var lastErr *service.LLMError

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<attempt) * time.Second
			if lastErr != nil && lastErr.RetryAfter > 0 {
				wait = lastErr.RetryAfter
				if wait > maxRetryAfter {
					wait = maxRetryAfter
				}
			}
			logger.Warn("retrying provider call",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, service.ClassifyError(ctx.Err(), provider, model)
			}
		}

		respBody, llmErr := postJSONOnce(ctx, client, url, headers, body, provider, model)
		if llmErr == nil {
			return respBody, nil
		}
		if !llmErr.IsRetryable() {
			return nil, llmErr
		}
		lastErr = llmErr
	}
	return nil, lastErr
}

func postJSONOnce(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte, provider, model string) ([]byte, *service.LLMError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, service.ClassifyError(err, provider, model)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, service.ClassifyError(err, provider, model)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, service.ClassifyError(err, provider, model)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, service.NewHTTPError(provider, model, resp.StatusCode, string(respBody), parseRetryAfter(resp))
	}
	return respBody, nil
}

// postStream 发起流式 POST, 返回已通过状态检查的响应
// 非 200 时读取 body 构造分类错误
func postStream(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte, provider, model string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, service.ClassifyError(err, provider, model)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, service.ClassifyError(err, provider, model)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, service.NewHTTPError(provider, model, resp.StatusCode, string(respBody), parseRetryAfter(resp))
	}
	return resp, nil
}

// watchBody 监听 ctx 取消并强制关闭流式 body
// Go 的 ctx 取消不会打断 body.Read, 唯一解法是关掉 body 让 scanner 出错返回
func watchBody(ctx context.Context, body io.Closer, done <-chan struct{}, logger *zap.Logger) {
	go func() {
		select {
		case <-ctx.Done():
			logger.Debug("context cancelled, force-closing stream body", zap.Error(ctx.Err()))
			body.Close()
		case <-done:
		}
	}()
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// --- 流式空闲超时 ---

var errIdleTimeout = fmt.Errorf("stream read idle timeout")

// timedReader 给每次 Read 套一个期限
// 单次 Read 阻塞超过 timeout 即返回 errIdleTimeout, 用于识别僵死的 SSE 流
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err == errIdleTimeout
}

// truncateForLog 截断长文本避免日志爆量
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
