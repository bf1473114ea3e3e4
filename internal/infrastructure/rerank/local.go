package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// Local 本地交叉编码器重排服务客户端
// 机器人未绑定远程重排模型时的兜底实现
type Local struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *zap.Logger
}

// NewLocal 创建本地重排客户端
func NewLocal(endpoint, model string, logger *zap.Logger) *Local {
	return &Local{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.Named("rerank.local"),
	}
}

var _ service.Reranker = (*Local)(nil)

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank 对候选文档按查询相关性重排
func (l *Local) Rerank(ctx context.Context, query string, docs []string, topN int) ([]valueobject.RerankResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{Model: l.model, Query: query, Documents: docs, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("local rerank returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	out := make([]valueobject.RerankResult, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("rerank index %d out of range", r.Index)
		}
		out = append(out, valueobject.RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}
