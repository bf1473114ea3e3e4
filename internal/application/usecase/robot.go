package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// RobotView 机器人视图
type RobotView struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ChatLLMID    uint      `json:"chat_llm_id"`
	RerankLLMID  uint      `json:"rerank_llm_id,omitempty"`
	EnableRerank bool      `json:"enable_rerank"`
	TopK         int       `json:"top_k"`
	Temperature  float64   `json:"temperature"`
	MaxTokens    int       `json:"max_tokens"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	KnowledgeIDs []uint    `json:"knowledge_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

func toRobotView(r *entity.Robot) RobotView {
	return RobotView{
		ID:           r.ID(),
		Name:         r.Name(),
		Description:  r.Description(),
		ChatLLMID:    r.ChatLLMID(),
		RerankLLMID:  r.RerankLLMID(),
		EnableRerank: r.EnableRerank(),
		TopK:         r.TopK(),
		Temperature:  r.Temperature(),
		MaxTokens:    r.MaxTokens(),
		SystemPrompt: r.SystemPrompt(),
		KnowledgeIDs: r.KnowledgeIDs(),
		CreatedAt:    r.CreatedAt(),
	}
}

// CreateRobotInput 创建机器人请求
type CreateRobotInput struct {
	Name         string  `json:"name" binding:"required"`
	Description  string  `json:"description"`
	ChatLLMID    uint    `json:"chat_llm_id" binding:"required"`
	RerankLLMID  uint    `json:"rerank_llm_id"`
	EnableRerank bool    `json:"enable_rerank"`
	TopK         int     `json:"top_k"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`
	KnowledgeIDs []uint  `json:"knowledge_ids"`
}

// UpdateRobotInput 更新机器人请求
type UpdateRobotInput struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	ChatLLMID    uint    `json:"chat_llm_id"`
	RerankLLMID  *uint   `json:"rerank_llm_id"`
	EnableRerank *bool   `json:"enable_rerank"`
	TopK         int     `json:"top_k"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`
	KnowledgeIDs []uint  `json:"knowledge_ids"`
}

// RetrievalTestInput 即席检索请求
type RetrievalTestInput struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

// RobotUseCase 机器人管理与即席检索
type RobotUseCase struct {
	robots     repository.RobotRepository
	knowledges repository.KnowledgeRepository
	llms       repository.LLMRepository
	retriever  *service.HybridRetriever
	logger     *zap.Logger
}

// NewRobotUseCase 创建机器人用例
func NewRobotUseCase(
	robots repository.RobotRepository,
	knowledges repository.KnowledgeRepository,
	llms repository.LLMRepository,
	retriever *service.HybridRetriever,
	logger *zap.Logger,
) *RobotUseCase {
	return &RobotUseCase{
		robots:     robots,
		knowledges: knowledges,
		llms:       llms,
		retriever:  retriever,
		logger:     logger.Named("robot"),
	}
}

// Create 创建机器人, 校验对话模型与知识库归属
func (uc *RobotUseCase) Create(ctx context.Context, userID uint, in CreateRobotInput) (*RobotView, error) {
	if err := uc.validateChatLLM(ctx, in.ChatLLMID); err != nil {
		return nil, err
	}
	if err := uc.validateKnowledgeOwnership(ctx, userID, in.KnowledgeIDs); err != nil {
		return nil, err
	}

	robot, err := entity.NewRobot(userID, in.Name, in.Description, in.ChatLLMID, in.KnowledgeIDs)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	robot.BindRerank(in.RerankLLMID, in.EnableRerank)
	robot.TuneGeneration(in.TopK, in.Temperature, in.MaxTokens)
	robot.UpdateBasic(in.Name, in.Description, in.SystemPrompt)
	if err := uc.robots.Save(ctx, robot); err != nil {
		return nil, err
	}
	view := toRobotView(robot)
	return &view, nil
}

// Get 查看机器人
func (uc *RobotUseCase) Get(ctx context.Context, userID, id uint) (*RobotView, error) {
	robot, err := uc.ownedRobot(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	view := toRobotView(robot)
	return &view, nil
}

// List 分页列出用户的机器人
func (uc *RobotUseCase) List(ctx context.Context, userID uint, limit, offset int) ([]RobotView, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	robots, err := uc.robots.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := uc.robots.CountByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	views := make([]RobotView, 0, len(robots))
	for _, r := range robots {
		views = append(views, toRobotView(r))
	}
	return views, total, nil
}

// Update 更新机器人
func (uc *RobotUseCase) Update(ctx context.Context, userID, id uint, in UpdateRobotInput) (*RobotView, error) {
	robot, err := uc.ownedRobot(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if in.ChatLLMID != 0 && in.ChatLLMID != robot.ChatLLMID() {
		if err := uc.validateChatLLM(ctx, in.ChatLLMID); err != nil {
			return nil, err
		}
		robot.BindChatLLM(in.ChatLLMID)
	}
	if in.KnowledgeIDs != nil {
		if err := uc.validateKnowledgeOwnership(ctx, userID, in.KnowledgeIDs); err != nil {
			return nil, err
		}
		robot.BindKnowledge(in.KnowledgeIDs)
	}
	robot.UpdateBasic(in.Name, in.Description, in.SystemPrompt)
	if in.RerankLLMID != nil || in.EnableRerank != nil {
		rerankID := robot.RerankLLMID()
		enable := robot.EnableRerank()
		if in.RerankLLMID != nil {
			rerankID = *in.RerankLLMID
		}
		if in.EnableRerank != nil {
			enable = *in.EnableRerank
		}
		robot.BindRerank(rerankID, enable)
	}
	robot.TuneGeneration(in.TopK, in.Temperature, in.MaxTokens)
	if err := uc.robots.Save(ctx, robot); err != nil {
		return nil, err
	}
	view := toRobotView(robot)
	return &view, nil
}

// Delete 删除机器人(级联清理知识库关联)
func (uc *RobotUseCase) Delete(ctx context.Context, userID, id uint) error {
	if _, err := uc.ownedRobot(ctx, userID, id); err != nil {
		return err
	}
	return uc.robots.Delete(ctx, id)
}

// RetrievalTest 用机器人的检索配置跑一次即席混合检索
func (uc *RobotUseCase) RetrievalTest(ctx context.Context, userID, id uint, in RetrievalTestInput) ([]valueobject.RetrievedChunk, error) {
	robot, err := uc.ownedRobot(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	kbs, err := uc.activeKnowledges(ctx, robot.KnowledgeIDs())
	if err != nil {
		return nil, err
	}
	if len(kbs) == 0 {
		return nil, apperrors.NewInvalidInputError("机器人没有可用的知识库")
	}

	topK := in.TopK
	if topK <= 0 {
		topK = robot.TopK()
	}
	return uc.retriever.Retrieve(ctx, service.RetrieveParams{
		Query:        in.Query,
		TopK:         topK,
		Knowledges:   kbs,
		EnableRerank: robot.EnableRerank(),
		RerankLLMID:  robot.RerankLLMID(),
	})
}

// ownedRobot 查找机器人并校验归属
func (uc *RobotUseCase) ownedRobot(ctx context.Context, userID, id uint) (*entity.Robot, error) {
	robot, err := uc.robots.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !robot.OwnedBy(userID) {
		return nil, apperrors.NewForbiddenError("无权使用该机器人")
	}
	return robot, nil
}

// activeKnowledges 过滤出启用状态的知识库
func (uc *RobotUseCase) activeKnowledges(ctx context.Context, ids []uint) ([]*entity.Knowledge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	kbs, err := uc.knowledges.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	active := make([]*entity.Knowledge, 0, len(kbs))
	for _, kb := range kbs {
		if kb.IsActive() {
			active = append(active, kb)
		}
	}
	return active, nil
}

func (uc *RobotUseCase) validateChatLLM(ctx context.Context, llmID uint) error {
	llm, err := uc.llms.FindByID(ctx, llmID)
	if err != nil {
		return err
	}
	if !llm.CanChat() {
		return apperrors.NewInvalidInputError("绑定的模型不是对话模型")
	}
	if !llm.IsActive() {
		return apperrors.NewInvalidInputError("绑定的对话模型已停用")
	}
	return nil
}

func (uc *RobotUseCase) validateKnowledgeOwnership(ctx context.Context, userID uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	kbs, err := uc.knowledges.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(kbs) != len(ids) {
		return apperrors.NewNotFoundError("部分知识库不存在")
	}
	for _, kb := range kbs {
		if !kb.OwnedBy(userID) {
			return apperrors.NewForbiddenError("无权绑定他人的知识库")
		}
	}
	return nil
}
