package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/monitoring"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// ChatInput 一次对话请求
// SessionID 为空时自动创建会话; 给定时必须与 RobotID 匹配
type ChatInput struct {
	SessionID string `json:"session_id"`
	RobotID   uint   `json:"robot_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
}

// ChatResult 非流式对话结果
type ChatResult struct {
	SessionID    string                       `json:"session_id"`
	Question     string                       `json:"question"`
	Answer       string                       `json:"answer"`
	Contexts     []valueobject.RetrievedChunk `json:"contexts"`
	TokenUsage   valueobject.TokenUsage       `json:"token_usage"`
	ResponseTime float64                      `json:"response_time"` // 秒
	Timing       ChatTiming                   `json:"timing"`
}

// ChatTiming 分阶段耗时(毫秒)
type ChatTiming struct {
	RetrievalMS  float64 `json:"retrieval_time_ms"`
	GenerationMS float64 `json:"generation_time_ms"`
	TotalMS      float64 `json:"total_time_ms"`
}

// ChatUseCase 对话编排
// 检索、上下文窗口、模型调用、消息落库串成一轮; 会话锁保证同会话单写
type ChatUseCase struct {
	sessions   repository.SessionRepository
	history    repository.ChatHistoryRepository
	robots     repository.RobotRepository
	knowledges repository.KnowledgeRepository
	clients    service.ClientResolver
	retriever  *service.HybridRetriever
	contexts   *service.ContextManager
	monitor    *monitoring.Monitor
	logger     *zap.Logger
}

// NewChatUseCase 创建对话用例
func NewChatUseCase(
	sessions repository.SessionRepository,
	history repository.ChatHistoryRepository,
	robots repository.RobotRepository,
	knowledges repository.KnowledgeRepository,
	clients service.ClientResolver,
	retriever *service.HybridRetriever,
	contexts *service.ContextManager,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
) *ChatUseCase {
	return &ChatUseCase{
		sessions:   sessions,
		history:    history,
		robots:     robots,
		knowledges: knowledges,
		clients:    clients,
		retriever:  retriever,
		contexts:   contexts,
		monitor:    monitor,
		logger:     logger.Named("chat"),
	}
}

// chatTurn 一轮对话的准备结果
type chatTurn struct {
	session  *entity.Session
	robot    *entity.Robot
	contexts []valueobject.RetrievedChunk
	messages []valueobject.Message
	client   service.LLMClient
	llm      *entity.LLM

	retrievalMS float64
	started     time.Time
}

// Ask 非流式对话
// 模型侧失败不抛 5xx, 以致歉文案作为回答返回
func (uc *ChatUseCase) Ask(ctx context.Context, userID uint, in ChatInput) (*ChatResult, error) {
	turn, err := uc.prepareTurn(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	defer uc.releaseLock(turn.session.ID())

	genStart := time.Now()
	req := uc.buildRequest(turn, false)
	uc.monitor.IncProviderCall()
	resp, err := turn.client.Chat(ctx, req)

	answer := ""
	usage := valueobject.TokenUsage{}
	if err != nil {
		uc.monitor.IncProviderFailure()
		uc.logger.Error("chat completion failed",
			zap.String("session_id", turn.session.ID()), zap.Error(err))
		answer = "抱歉，生成回答时出错: " + err.Error()
	} else {
		answer = resp.Content
		usage = resp.Usage
		uc.monitor.AddTokensUsed(usage.TotalTokens)
	}

	timing := ChatTiming{
		RetrievalMS:  turn.retrievalMS,
		GenerationMS: float64(time.Since(genStart).Milliseconds()),
		TotalMS:      float64(time.Since(turn.started).Milliseconds()),
	}
	uc.persistAssistant(ctx, turn, answer, usage, timing)

	return &ChatResult{
		SessionID:    turn.session.ID(),
		Question:     in.Question,
		Answer:       answer,
		Contexts:     turn.contexts,
		TokenUsage:   usage,
		ResponseTime: time.Since(turn.started).Seconds(),
		Timing:       timing,
	}, nil
}

// prepareTurn 对话前半程: 会话解析、检索、用户消息落库、消息组装
// 成功返回时持有会话锁, 调用方负责释放
func (uc *ChatUseCase) prepareTurn(ctx context.Context, userID uint, in ChatInput) (*chatTurn, error) {
	started := time.Now()

	robot, err := uc.robots.FindByID(ctx, in.RobotID)
	if err != nil {
		return nil, err
	}
	if !robot.OwnedBy(userID) {
		return nil, apperrors.NewForbiddenError("无权使用该机器人")
	}

	session, err := uc.resolveSession(ctx, userID, robot, in.SessionID)
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

	locked, err := uc.contexts.AcquireSessionLock(ctx, session.ID())
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, apperrors.NewInvalidInputError("会话正在处理上一条消息, 请稍候")
	}

	ok := false
	defer func() {
		if !ok {
			uc.releaseLock(session.ID())
		}
	}()

	retrievalStart := time.Now()
	uc.monitor.IncRetrieval()
	retrieved, err := uc.retriever.Retrieve(ctx, service.RetrieveParams{
		Query:        in.Question,
		TopK:         robot.TopK(),
		Knowledges:   kbs,
		EnableRerank: robot.EnableRerank(),
		RerankLLMID:  robot.RerankLLMID(),
	})
	if err != nil {
		return nil, err
	}
	retrievalMS := float64(time.Since(retrievalStart).Milliseconds())
	uc.monitor.RecordRetrievalLatency(time.Since(retrievalStart))

	if _, err := uc.contexts.GetOrLoadContext(ctx, session.ID(), userID, robot.ID(), robot.SystemPrompt()); err != nil {
		return nil, err
	}

	if err := uc.persistUserMessage(ctx, session, in.Question); err != nil {
		return nil, err
	}
	if err := uc.contexts.AddUserMessage(ctx, session.ID(), in.Question); err != nil {
		uc.logger.Warn("failed to push user message into cache window",
			zap.String("session_id", session.ID()), zap.Error(err))
	}

	// 本轮用户消息(含检索上下文)在 BuildLLMMessages 里拼装, 历史窗口取自缓存,
	// 此时窗口已含本条问题, 组装时去掉末尾一条避免重复
	messages, err := uc.contexts.BuildLLMMessages(ctx, session.ID(), robot.SystemPrompt(), in.Question, retrieved)
	if err != nil {
		return nil, err
	}
	messages = dropDuplicateTail(messages, in.Question)

	client, llm, err := uc.clients.Resolve(ctx, robot.ChatLLMID())
	if err != nil {
		return nil, err
	}
	if !llm.CanChat() {
		return nil, apperrors.NewInvalidInputError("绑定的模型不是对话模型")
	}

	ok = true
	return &chatTurn{
		session:     session,
		robot:       robot,
		contexts:    retrieved,
		messages:    messages,
		client:      client,
		llm:         llm,
		retrievalMS: retrievalMS,
		started:     started,
	}, nil
}

// dropDuplicateTail 历史窗口已含本轮问题时去掉倒数第二条重复项
// BuildLLMMessages 末尾追加的是带检索上下文的完整版本
func dropDuplicateTail(messages []valueobject.Message, question string) []valueobject.Message {
	if len(messages) < 2 {
		return messages
	}
	prev := messages[len(messages)-2]
	if prev.Role == "user" && prev.Content == question {
		return append(messages[:len(messages)-2], messages[len(messages)-1])
	}
	return messages
}

// resolveSession 解析或创建会话
func (uc *ChatUseCase) resolveSession(ctx context.Context, userID uint, robot *entity.Robot, sessionID string) (*entity.Session, error) {
	if sessionID == "" {
		session, err := entity.NewSession(uuid.NewString(), userID, robot.ID(), "")
		if err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		if err := uc.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
		if err := uc.contexts.InitContext(ctx, session.ID(), userID, robot.ID(), robot.SystemPrompt()); err != nil {
			uc.logger.Warn("failed to init session context cache",
				zap.String("session_id", session.ID()), zap.Error(err))
		}
		return session, nil
	}

	session, err := uc.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status() == entity.SessionStatusDeleted {
		return nil, apperrors.NewNotFoundError("会话不存在")
	}
	if !session.OwnedBy(userID) {
		return nil, apperrors.NewForbiddenError("无权访问该会话")
	}
	if !session.BoundTo(robot.ID()) {
		return nil, apperrors.NewInvalidInputError("会话绑定的机器人与请求不一致")
	}
	if !session.IsActive() {
		return nil, apperrors.NewInvalidInputError("会话已归档, 不能继续对话")
	}
	return session, nil
}

// persistUserMessage 用户消息落库并更新会话统计; 首条用户消息顺带合成标题
func (uc *ChatUseCase) persistUserMessage(ctx context.Context, session *entity.Session, question string) error {
	msg, err := entity.NewChatMessage(uuid.NewString(), session.ID(), entity.MsgRoleUser, question)
	if err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := uc.history.Save(ctx, msg); err != nil {
		return err
	}
	session.AutoTitle(question)
	session.RecordMessage(time.Now())
	return uc.sessions.Save(ctx, session)
}

// persistAssistant 助手消息落库 + 缓存窗口更新
// 用独立的不可取消上下文执行: 客户端断开后也要完成持久化
func (uc *ChatUseCase) persistAssistant(ctx context.Context, turn *chatTurn, answer string, usage valueobject.TokenUsage, timing ChatTiming) {
	if answer == "" {
		answer = "(无输出)"
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	msg, err := entity.NewChatMessage(uuid.NewString(), turn.session.ID(), entity.MsgRoleAssistant, answer)
	if err != nil {
		uc.logger.Error("invalid assistant message", zap.Error(err))
		return
	}
	msg.SetRetrievedContexts(turn.contexts)
	msg.SetTokenUsage(usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	msg.SetTimings(timing.RetrievalMS, timing.GenerationMS, timing.TotalMS)
	if err := uc.history.Save(saveCtx, msg); err != nil {
		uc.logger.Error("failed to persist assistant message",
			zap.String("session_id", turn.session.ID()), zap.Error(err))
		return
	}
	turn.session.RecordMessage(time.Now())
	if err := uc.sessions.Save(saveCtx, turn.session); err != nil {
		uc.logger.Error("failed to update session counters",
			zap.String("session_id", turn.session.ID()), zap.Error(err))
	}
	if err := uc.contexts.AddAssistantMessage(saveCtx, turn.session.ID(), answer, usage.TotalTokens); err != nil {
		uc.logger.Warn("failed to push assistant message into cache window",
			zap.String("session_id", turn.session.ID()), zap.Error(err))
	}
}

func (uc *ChatUseCase) buildRequest(turn *chatTurn, stream bool) valueobject.ChatRequest {
	return valueobject.ChatRequest{
		Messages:    turn.messages,
		Model:       turn.llm.ModelName(),
		Temperature: turn.robot.Temperature(),
		MaxTokens:   turn.robot.MaxTokens(),
		Stream:      stream,
	}
}

func (uc *ChatUseCase) releaseLock(sessionID string) {
	if err := uc.contexts.ReleaseSessionLock(context.Background(), sessionID); err != nil {
		uc.logger.Warn("failed to release session lock",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// activeKnowledges 过滤启用状态的知识库
func (uc *ChatUseCase) activeKnowledges(ctx context.Context, ids []uint) ([]*entity.Knowledge, error) {
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
