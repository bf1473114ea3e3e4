package valueobject

// SessionContext 会话上下文元数据（缓存驻留）
// 消息窗口单独存成 list, 新消息插头部, 上限 2·MAX_TURNS 条
type SessionContext struct {
	UserID       uint   `json:"user_id"`
	RobotID      uint   `json:"robot_id"`
	TurnCount    int    `json:"turn_count"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	TotalTokens  int    `json:"total_tokens"`
	LastActive   int64  `json:"last_active"` // unix 秒
}
