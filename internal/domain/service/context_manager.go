package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// SessionCache 会话缓存端口（实现在基础设施层）
// 消息 list 新消息插头部; 读取时按最旧在前返回
type SessionCache interface {
	// SaveContext 写入会话元数据并刷新 TTL
	SaveContext(ctx context.Context, sessionID string, sc valueobject.SessionContext) error

	// GetContext 读取会话元数据, 不存在时返回 (nil, nil)
	GetContext(ctx context.Context, sessionID string) (*valueobject.SessionContext, error)

	// PushMessage 头部插入一条消息并截断到 cap 条, 刷新 TTL
	PushMessage(ctx context.Context, sessionID string, msg valueobject.Message, cap int) error

	// GetMessages 返回窗口内消息, 最旧在前
	GetMessages(ctx context.Context, sessionID string) ([]valueobject.Message, error)

	// Touch 刷新元数据与消息两个键的 TTL
	Touch(ctx context.Context, sessionID string) error

	// Clear 清除会话的缓存窗口
	Clear(ctx context.Context, sessionID string) error

	// AcquireLock 以 set-if-absent 语义抢会话锁, 返回是否抢到
	AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)

	// ReleaseLock 释放会话锁
	ReleaseLock(ctx context.Context, sessionID string) error

	// TouchActiveSession 把会话按当前时间记入用户活跃集
	TouchActiveSession(ctx context.Context, userID uint, sessionID string) error

	// RemoveActiveSession 从用户活跃集移除会话
	RemoveActiveSession(ctx context.Context, userID uint, sessionID string) error
}

// 会话锁 TTL, 覆盖单次请求内的读改写
const sessionLockTTL = 30 * time.Second

// ContextManager 滚动上下文窗口管理
// 缓存是热路径权威, 关系库是重启后权威; 窗口上限 2·maxTurns 条消息
type ContextManager struct {
	cache     SessionCache
	history   repository.ChatHistoryRepository
	maxTurns  int
	maxTokens int
	logger    *zap.Logger
}

// NewContextManager 创建上下文管理器
// maxTokens 是发往模型的消息列表估算预算, <=0 时不按 token 截断
func NewContextManager(cache SessionCache, history repository.ChatHistoryRepository, maxTurns, maxTokens int, logger *zap.Logger) *ContextManager {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &ContextManager{
		cache:     cache,
		history:   history,
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// MaxTurns 返回最大轮数
func (m *ContextManager) MaxTurns() int { return m.maxTurns }

// windowCap 消息窗口容量 = 2·maxTurns (一轮一问一答)
func (m *ContextManager) windowCap() int { return 2 * m.maxTurns }

// InitContext 初始化会话上下文: 建空元数据, 加入用户活跃集
func (m *ContextManager) InitContext(ctx context.Context, sessionID string, userID, robotID uint, systemPrompt string) error {
	sc := valueobject.SessionContext{
		UserID:       userID,
		RobotID:      robotID,
		SystemPrompt: systemPrompt,
		LastActive:   time.Now().Unix(),
	}
	if err := m.cache.SaveContext(ctx, sessionID, sc); err != nil {
		return err
	}
	return m.cache.TouchActiveSession(ctx, userID, sessionID)
}

// GetOrLoadContext 取缓存上下文; 缓存未命中时从关系库历史重建窗口
func (m *ContextManager) GetOrLoadContext(ctx context.Context, sessionID string, userID, robotID uint, systemPrompt string) (*valueobject.SessionContext, error) {
	sc, err := m.cache.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sc != nil {
		if err := m.cache.Touch(ctx, sessionID); err != nil {
			m.logger.Warn("failed to refresh context ttl", zap.String("session_id", sessionID), zap.Error(err))
		}
		return sc, nil
	}

	// 缓存失效, 从关系库回灌最近的窗口
	msgs, err := m.history.FindRecent(ctx, sessionID, m.windowCap())
	if err != nil {
		return nil, err
	}
	if err := m.InitContext(ctx, sessionID, userID, robotID, systemPrompt); err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		vm := valueobject.Message{Role: msg.Role(), Content: msg.Content()}
		if err := m.cache.PushMessage(ctx, sessionID, vm, m.windowCap()); err != nil {
			return nil, err
		}
	}
	rebuilt := valueobject.SessionContext{
		UserID:       userID,
		RobotID:      robotID,
		TurnCount:    m.turnCount(len(msgs)),
		SystemPrompt: systemPrompt,
		LastActive:   time.Now().Unix(),
	}
	if err := m.cache.SaveContext(ctx, sessionID, rebuilt); err != nil {
		return nil, err
	}
	return &rebuilt, nil
}

// AddUserMessage 把用户消息写入窗口
func (m *ContextManager) AddUserMessage(ctx context.Context, sessionID, content string) error {
	return m.addMessage(ctx, sessionID, "user", content, 0)
}

// AddAssistantMessage 把助手消息写入窗口并累计 token 用量
func (m *ContextManager) AddAssistantMessage(ctx context.Context, sessionID, content string, totalTokens int) error {
	return m.addMessage(ctx, sessionID, "assistant", content, totalTokens)
}

func (m *ContextManager) addMessage(ctx context.Context, sessionID, role, content string, tokens int) error {
	msg := valueobject.Message{Role: role, Content: content}
	if err := m.cache.PushMessage(ctx, sessionID, msg, m.windowCap()); err != nil {
		return err
	}

	sc, err := m.cache.GetContext(ctx, sessionID)
	if err != nil {
		return err
	}
	if sc == nil {
		return nil
	}
	msgs, err := m.cache.GetMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	sc.TurnCount = m.turnCount(len(msgs))
	sc.TotalTokens += tokens
	sc.LastActive = time.Now().Unix()
	if err := m.cache.SaveContext(ctx, sessionID, *sc); err != nil {
		return err
	}
	return m.cache.TouchActiveSession(ctx, sc.UserID, sessionID)
}

// turnCount = min((消息数+1)/2, maxTurns)
func (m *ContextManager) turnCount(msgCount int) int {
	turns := (msgCount + 1) / 2
	if turns > m.maxTurns {
		turns = m.maxTurns
	}
	return turns
}

// BuildLLMMessages 组装发往模型的消息列表:
// [system] + 历史(最旧在前) + 本轮用户消息(含检索上下文)
func (m *ContextManager) BuildLLMMessages(ctx context.Context, sessionID, systemPrompt, question string, contexts []valueobject.RetrievedChunk) ([]valueobject.Message, error) {
	history, err := m.cache.GetMessages(ctx, sessionID)
	if err != nil {
		m.logger.Warn("failed to load context window, continuing without history",
			zap.String("session_id", sessionID), zap.Error(err))
		history = nil
	}

	prompt := BuildRAGPrompt(question, contexts)
	history = m.trimToBudget(history, systemPrompt, prompt)

	msgs := make([]valueobject.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, valueobject.Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, valueobject.Message{Role: "user", Content: prompt})
	return msgs, nil
}

// trimToBudget 从最旧一侧丢整轮历史, 直到估算 token 不超预算
// system 与本轮提示词不参与裁剪
func (m *ContextManager) trimToBudget(history []valueobject.Message, systemPrompt, prompt string) []valueobject.Message {
	if m.maxTokens <= 0 {
		return history
	}
	fixed := EstimateMessagesTokens(systemPrompt, prompt)
	for len(history) > 0 {
		contents := make([]string, len(history))
		for i, msg := range history {
			contents[i] = msg.Content
		}
		if fixed+EstimateMessagesTokens(contents...) <= m.maxTokens {
			return history
		}
		// 整轮丢弃, 避免留下孤立的半轮对话
		drop := 2
		if drop > len(history) {
			drop = len(history)
		}
		history = history[drop:]
	}
	return history
}

// AcquireSessionLock 抢会话级单写锁
func (m *ContextManager) AcquireSessionLock(ctx context.Context, sessionID string) (bool, error) {
	return m.cache.AcquireLock(ctx, sessionID, sessionLockTTL)
}

// ReleaseSessionLock 释放会话锁
func (m *ContextManager) ReleaseSessionLock(ctx context.Context, sessionID string) error {
	return m.cache.ReleaseLock(ctx, sessionID)
}

// ClearContext 清空会话窗口并移出活跃集
func (m *ContextManager) ClearContext(ctx context.Context, sessionID string, userID uint) error {
	if err := m.cache.Clear(ctx, sessionID); err != nil {
		return err
	}
	return m.cache.RemoveActiveSession(ctx, userID, sessionID)
}

// BuildRAGPrompt 把检索上下文与问题拼成本轮用户消息
// 无上下文时原样返回问题
func BuildRAGPrompt(question string, contexts []valueobject.RetrievedChunk) string {
	if len(contexts) == 0 {
		return question
	}
	blocks := make([]string, 0, len(contexts))
	for i, rc := range contexts {
		blocks = append(blocks, fmt.Sprintf("[文档%d] %s\n%s", i+1, rc.FileName, rc.Content))
	}
	var b strings.Builder
	b.WriteString("## 知识库上下文：\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\n## 用户问题：\n")
	b.WriteString(question)
	b.WriteString("\n请基于上述知识库内容回答用户问题。若知识库中无相关信息，请明确说明。")
	return b.String()
}
