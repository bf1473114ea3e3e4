package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
)

const defaultBatchSize = 16

// Local 本地向量化服务客户端 (Ollama /api/embed 协议)
// 知识库未绑定远程向量化模型或凭据缺失时的兜底实现
type Local struct {
	endpoint  string
	model     string
	batchSize int
	client    *http.Client
	logger    *zap.Logger

	mu        sync.Mutex
	dimension int
}

// NewLocal 创建本地向量化客户端
// 维度在首次调用 Dimension 时探测并缓存, 不在构造期阻塞
func NewLocal(endpoint, model string, batchSize int, logger *zap.Logger) *Local {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Local{
		endpoint:  endpoint,
		model:     model,
		batchSize: batchSize,
		client:    &http.Client{Timeout: 120 * time.Second},
		logger:    logger.Named("embedding.local"),
	}
}

var _ service.Embedder = (*Local)(nil)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed 批量向量化, 超过批大小时分批串行调用
func (e *Local) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.doEmbed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(out))
	}
	return out, nil
}

// Dimension 返回向量维度, 首次调用对单字符样本编码一次
func (e *Local) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimension > 0 {
		return e.dimension, nil
	}

	vecs, err := e.doEmbed(ctx, []string{"维"})
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("probe embedding dimension: empty vector")
	}
	e.dimension = len(vecs[0])
	e.logger.Info("embedding dimension probed",
		zap.String("model", e.model),
		zap.Int("dimension", e.dimension))
	return e.dimension, nil
}

func (e *Local) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	resp, err := e.post(ctx, body)
	if err != nil {
		// 本地服务偶发连接失败, 重试一次
		e.logger.Warn("local embed request failed, retrying", zap.Error(err))
		resp, err = e.post(ctx, body)
		if err != nil {
			return nil, fmt.Errorf("local embed request failed after retry: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("local embed returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(embedResp.Embeddings))
	}
	return embedResp.Embeddings, nil
}

func (e *Local) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.client.Do(req)
}
