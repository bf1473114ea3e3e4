package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/bus"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/cache"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// progressEvery 每处理多少条查询持久化一次进度
const progressEvery = 10

// StartRecallInput 召回评测请求
type StartRecallInput struct {
	Queries      []valueobject.RecallQuery `json:"queries" binding:"required"`
	TopN         int                       `json:"top_n"`
	Threshold    float64                   `json:"threshold"`
	KnowledgeIDs []uint                    `json:"knowledge_ids" binding:"required"`
	RobotID      uint                      `json:"robot_id"`
}

// RecallUseCase 召回质量评测
// HTTP 侧建任务发 recall.test, worker 消费执行;
// 任务态只存 Redis, 删 key 即取消(worker 在下一次进度写入时发现并退出)
type RecallUseCase struct {
	store      *cache.RecallStore
	queue      bus.Bus
	robots     repository.RobotRepository
	knowledges repository.KnowledgeRepository
	retriever  *service.HybridRetriever
	logger     *zap.Logger
}

// NewRecallUseCase 创建召回评测用例
func NewRecallUseCase(
	store *cache.RecallStore,
	queue bus.Bus,
	robots repository.RobotRepository,
	knowledges repository.KnowledgeRepository,
	retriever *service.HybridRetriever,
	logger *zap.Logger,
) *RecallUseCase {
	return &RecallUseCase{
		store:      store,
		queue:      queue,
		robots:     robots,
		knowledges: knowledges,
		retriever:  retriever,
		logger:     logger.Named("recall"),
	}
}

// Start 校验参数、登记 pending 任务并投递 recall.test
func (uc *RecallUseCase) Start(ctx context.Context, userID uint, in StartRecallInput) (*valueobject.RecallTask, error) {
	if len(in.Queries) == 0 {
		return nil, apperrors.NewInvalidInputError("查询列表不能为空")
	}
	if len(in.Queries) > valueobject.MaxRecallQueries {
		return nil, apperrors.NewInvalidInputError("查询数量超过上限 5000")
	}
	if in.TopN <= 0 {
		in.TopN = 10
	}
	if in.TopN > 100 {
		return nil, apperrors.NewInvalidInputError("top_n 不能超过 100")
	}
	if in.Threshold < 0 || in.Threshold > 1 {
		return nil, apperrors.NewInvalidInputError("threshold 取值范围 [0, 1]")
	}
	if len(in.KnowledgeIDs) == 0 {
		return nil, apperrors.NewInvalidInputError("至少选择一个知识库")
	}
	if err := uc.validateKnowledges(ctx, userID, in.KnowledgeIDs); err != nil {
		return nil, err
	}
	if in.RobotID != 0 {
		robot, err := uc.robots.FindByID(ctx, in.RobotID)
		if err != nil {
			return nil, err
		}
		if !robot.OwnedBy(userID) {
			return nil, apperrors.NewForbiddenError("无权使用该机器人")
		}
	}

	task := &valueobject.RecallTask{
		TaskID:    uuid.NewString(),
		Status:    valueobject.RecallStatusPending,
		Total:     len(in.Queries),
		StartTime: time.Now().Unix(),
	}
	if err := uc.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(bus.RecallTestMessage{
		TaskID:       task.TaskID,
		Queries:      in.Queries,
		TopN:         in.TopN,
		Threshold:    in.Threshold,
		KnowledgeIDs: in.KnowledgeIDs,
		RobotID:      in.RobotID,
		UserID:       userID,
	})
	if err != nil {
		return nil, err
	}
	if err := uc.queue.Publish(ctx, bus.TopicRecallTest, payload); err != nil {
		return nil, apperrors.NewInternalErrorWithCause("评测任务入队失败", err)
	}
	uc.logger.Info("recall task enqueued",
		zap.String("task_id", task.TaskID),
		zap.Int("queries", task.Total),
		zap.Int("top_n", in.TopN))
	return task, nil
}

// Status 查询任务进度
func (uc *RecallUseCase) Status(ctx context.Context, taskID string) (*valueobject.RecallTask, error) {
	task, err := uc.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperrors.NewNotFoundError("评测任务不存在或已过期")
	}
	return task, nil
}

// Cancel 删掉任务键, worker 在下一次进度写入时发现并中止
func (uc *RecallUseCase) Cancel(ctx context.Context, taskID string) error {
	if _, err := uc.Status(ctx, taskID); err != nil {
		return err
	}
	return uc.store.DeleteTask(ctx, taskID)
}

// HandleRecallTest worker 端: 顺序跑完全部查询并聚合指标
func (uc *RecallUseCase) HandleRecallTest(ctx context.Context, payload []byte) error {
	var msg bus.RecallTestMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		uc.logger.Error("malformed recall.test payload dropped", zap.Error(err))
		return nil
	}
	task, err := uc.store.GetTask(ctx, msg.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		uc.logger.Info("recall task cancelled before start", zap.String("task_id", msg.TaskID))
		return nil
	}

	task.Status = valueobject.RecallStatusRunning
	if err := uc.store.SaveTask(ctx, task); err != nil {
		return err
	}
	if err := uc.runTask(ctx, task, msg); err != nil {
		task.Status = valueobject.RecallStatusFailed
		task.Error = err.Error()
		if saveErr := uc.store.SaveTask(ctx, task); saveErr != nil {
			uc.logger.Error("failed to persist failed recall task",
				zap.String("task_id", task.TaskID), zap.Error(saveErr))
		}
		uc.logger.Error("recall task failed",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}
	return nil
}

func (uc *RecallUseCase) runTask(ctx context.Context, task *valueobject.RecallTask, msg bus.RecallTestMessage) error {
	kbs, enableRerank, rerankLLMID, err := uc.taskRetrievalConfig(ctx, msg)
	if err != nil {
		return err
	}

	started := time.Now()
	results := make([]valueobject.RecallResult, 0, len(msg.Queries))
	for i, q := range msg.Queries {
		queryStart := time.Now()
		retrieved, err := uc.retriever.Retrieve(ctx, service.RetrieveParams{
			Query:        q.Query,
			TopK:         msg.TopN,
			Knowledges:   kbs,
			EnableRerank: enableRerank,
			RerankLLMID:  rerankLLMID,
		})
		latencyMS := float64(time.Since(queryStart).Milliseconds())

		result := service.EvaluateRecallQuery(q, retrieved, msg.Threshold, latencyMS)
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)

		completed := i + 1
		if completed%progressEvery == 0 || completed == len(msg.Queries) {
			cancelled, err := uc.writeProgress(ctx, task, results, completed, started)
			if err != nil {
				return err
			}
			if cancelled {
				uc.logger.Info("recall task cancelled mid-flight",
					zap.String("task_id", task.TaskID), zap.Int("completed", completed))
				return nil
			}
		}
	}

	summary := service.SummarizeRecall(results)
	task.Status = valueobject.RecallStatusFinished
	task.Progress = 100
	task.Completed = len(results)
	task.Results = results
	task.Summary = &summary
	task.EstimatedRemaining = 0
	if err := uc.store.SaveTask(ctx, task); err != nil {
		return err
	}
	uc.logger.Info("recall task finished",
		zap.String("task_id", task.TaskID),
		zap.Int("total", summary.Total),
		zap.Float64("avg_recall", summary.AvgRecall),
		zap.Float64("top_n_hit_rate", summary.TopNHitRate))
	return nil
}

// writeProgress 持久化进度; 任务键消失视为已取消
func (uc *RecallUseCase) writeProgress(ctx context.Context, task *valueobject.RecallTask, results []valueobject.RecallResult, completed int, started time.Time) (bool, error) {
	exists, err := uc.store.Exists(ctx, task.TaskID)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}

	p := float64(completed) / float64(task.Total)
	task.Completed = completed
	task.Progress = p * 100
	task.Results = results
	if p > 0 && p < 1 {
		task.EstimatedRemaining = time.Since(started).Seconds() * (1/p - 1)
	} else {
		task.EstimatedRemaining = 0
	}
	return false, uc.store.SaveTask(ctx, task)
}

// taskRetrievalConfig 机器人存在时沿用其重排配置, 否则不开重排
func (uc *RecallUseCase) taskRetrievalConfig(ctx context.Context, msg bus.RecallTestMessage) ([]*entity.Knowledge, bool, uint, error) {
	kbs, err := uc.knowledges.FindByIDs(ctx, msg.KnowledgeIDs)
	if err != nil {
		return nil, false, 0, err
	}
	active := make([]*entity.Knowledge, 0, len(kbs))
	for _, kb := range kbs {
		if kb.IsActive() {
			active = append(active, kb)
		}
	}
	if len(active) == 0 {
		return nil, false, 0, apperrors.NewInvalidInputError("没有可用的知识库")
	}

	if msg.RobotID != 0 {
		robot, err := uc.robots.FindByID(ctx, msg.RobotID)
		if err == nil {
			return active, robot.EnableRerank(), robot.RerankLLMID(), nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, false, 0, err
		}
	}
	return active, false, 0, nil
}

func (uc *RecallUseCase) validateKnowledges(ctx context.Context, userID uint, ids []uint) error {
	kbs, err := uc.knowledges.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(kbs) != len(ids) {
		return apperrors.NewNotFoundError("部分知识库不存在")
	}
	for _, kb := range kbs {
		if !kb.OwnedBy(userID) {
			return apperrors.NewForbiddenError("无权使用他人的知识库")
		}
	}
	return nil
}
