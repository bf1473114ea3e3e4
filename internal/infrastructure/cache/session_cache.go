package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// 键布局
// rag:session:{sid}:context  hash, TTL contextTTL
// rag:session:{sid}:messages list 头插, TTL contextTTL
// rag:session:{sid}:lock     set-if-absent
// rag:user:{uid}:active_sessions zset(score=最后活跃时间), TTL activeTTL
func contextKey(sid string) string { return "rag:session:" + sid + ":context" }
func messagesKey(sid string) string { return "rag:session:" + sid + ":messages" }
func lockKey(sid string) string    { return "rag:session:" + sid + ":lock" }
func activeSessionsKey(uid uint) string {
	return fmt.Sprintf("rag:user:%d:active_sessions", uid)
}

// SessionCache 会话窗口的 Redis 实现
type SessionCache struct {
	cli        *redis.Client
	contextTTL time.Duration
	activeTTL  time.Duration
	logger     *zap.Logger
}

// NewSessionCache 创建会话缓存
func NewSessionCache(cli *redis.Client, contextTTL, activeTTL time.Duration, logger *zap.Logger) *SessionCache {
	if contextTTL <= 0 {
		contextTTL = 7200 * time.Second
	}
	if activeTTL <= 0 {
		activeTTL = 86400 * time.Second
	}
	return &SessionCache{
		cli:        cli,
		contextTTL: contextTTL,
		activeTTL:  activeTTL,
		logger:     logger.Named("session_cache"),
	}
}

var _ service.SessionCache = (*SessionCache)(nil)

// SaveContext 写入会话元数据并刷新 TTL
func (c *SessionCache) SaveContext(ctx context.Context, sessionID string, sc valueobject.SessionContext) error {
	key := contextKey(sessionID)
	fields := map[string]interface{}{
		"user_id":       sc.UserID,
		"robot_id":      sc.RobotID,
		"turn_count":    sc.TurnCount,
		"system_prompt": sc.SystemPrompt,
		"total_tokens":  sc.TotalTokens,
		"last_active":   sc.LastActive,
	}
	pipe := c.cli.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.contextTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session context %s: %w", sessionID, err)
	}
	return nil
}

// GetContext 读取会话元数据, 不存在时返回 (nil, nil)
func (c *SessionCache) GetContext(ctx context.Context, sessionID string) (*valueobject.SessionContext, error) {
	fields, err := c.cli.HGetAll(ctx, contextKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session context %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	sc := &valueobject.SessionContext{SystemPrompt: fields["system_prompt"]}
	sc.UserID = uint(parseInt(fields["user_id"]))
	sc.RobotID = uint(parseInt(fields["robot_id"]))
	sc.TurnCount = int(parseInt(fields["turn_count"]))
	sc.TotalTokens = int(parseInt(fields["total_tokens"]))
	sc.LastActive = parseInt(fields["last_active"])
	return sc, nil
}

// PushMessage 头部插入一条消息并截断到 cap 条, 刷新 TTL
func (c *SessionCache) PushMessage(ctx context.Context, sessionID string, msg valueobject.Message, cap int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := messagesKey(sessionID)
	pipe := c.cli.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(cap)-1)
	pipe.Expire(ctx, key, c.contextTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push message to %s: %w", sessionID, err)
	}
	return nil
}

// GetMessages 返回窗口内消息, 最旧在前
// list 头插存储, 读出后整体反转
func (c *SessionCache) GetMessages(ctx context.Context, sessionID string) ([]valueobject.Message, error) {
	raw, err := c.cli.LRange(ctx, messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages for %s: %w", sessionID, err)
	}

	out := make([]valueobject.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg valueobject.Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			c.logger.Warn("skip corrupt cached message",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Touch 刷新元数据与消息两个键的 TTL
func (c *SessionCache) Touch(ctx context.Context, sessionID string) error {
	pipe := c.cli.Pipeline()
	pipe.Expire(ctx, contextKey(sessionID), c.contextTTL)
	pipe.Expire(ctx, messagesKey(sessionID), c.contextTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

// Clear 清除会话的缓存窗口
func (c *SessionCache) Clear(ctx context.Context, sessionID string) error {
	if err := c.cli.Del(ctx, contextKey(sessionID), messagesKey(sessionID), lockKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

// AcquireLock 以 set-if-absent 语义抢会话锁
func (c *SessionCache) AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := c.cli.SetNX(ctx, lockKey(sessionID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", sessionID, err)
	}
	return ok, nil
}

// ReleaseLock 释放会话锁
func (c *SessionCache) ReleaseLock(ctx context.Context, sessionID string) error {
	if err := c.cli.Del(ctx, lockKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("release lock for %s: %w", sessionID, err)
	}
	return nil
}

// TouchActiveSession 把会话按当前时间记入用户活跃集
func (c *SessionCache) TouchActiveSession(ctx context.Context, userID uint, sessionID string) error {
	key := activeSessionsKey(userID)
	pipe := c.cli.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(time.Now().Unix()), Member: sessionID})
	pipe.Expire(ctx, key, c.activeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch active session %s: %w", sessionID, err)
	}
	return nil
}

// RemoveActiveSession 从用户活跃集移除会话
func (c *SessionCache) RemoveActiveSession(ctx context.Context, userID uint, sessionID string) error {
	if err := c.cli.ZRem(ctx, activeSessionsKey(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("remove active session %s: %w", sessionID, err)
	}
	return nil
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
