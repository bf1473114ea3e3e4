package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// 召回测试任务的保留时长
const recallTaskTTL = 3600 * time.Second

func recallKey(taskID string) string { return "rag:recall:" + taskID }

// RecallStore 召回测试任务状态的 Redis 存储
// 任务是纯 JSON blob; 删除键即取消任务, worker 每批写进度前检查键是否还在
type RecallStore struct {
	cli *redis.Client
}

// NewRecallStore 创建任务存储
func NewRecallStore(cli *redis.Client) *RecallStore {
	return &RecallStore{cli: cli}
}

// SaveTask 写入任务状态并刷新 TTL
func (s *RecallStore) SaveTask(ctx context.Context, task *valueobject.RecallTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal recall task %s: %w", task.TaskID, err)
	}
	if err := s.cli.Set(ctx, recallKey(task.TaskID), data, recallTaskTTL).Err(); err != nil {
		return fmt.Errorf("save recall task %s: %w", task.TaskID, err)
	}
	return nil
}

// GetTask 读取任务状态, 不存在返回 (nil, nil)
func (s *RecallStore) GetTask(ctx context.Context, taskID string) (*valueobject.RecallTask, error) {
	data, err := s.cli.Get(ctx, recallKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recall task %s: %w", taskID, err)
	}
	var task valueobject.RecallTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal recall task %s: %w", taskID, err)
	}
	return &task, nil
}

// DeleteTask 删除任务键, 同时充当取消信号
func (s *RecallStore) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.cli.Del(ctx, recallKey(taskID)).Err(); err != nil {
		return fmt.Errorf("delete recall task %s: %w", taskID, err)
	}
	return nil
}

// Exists 判断任务键是否仍在(未被取消且未过期)
func (s *RecallStore) Exists(ctx context.Context, taskID string) (bool, error) {
	n, err := s.cli.Exists(ctx, recallKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("check recall task %s: %w", taskID, err)
	}
	return n > 0, nil
}
