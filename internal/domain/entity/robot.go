package entity

import "time"

// 机器人参数边界与默认值
const (
	MinTopK            = 1
	MaxTopK            = 20
	DefaultTopK        = 5
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// Robot 问答机器人聚合根
// 机器人把一个对话模型和若干知识库装配成一个可聊天的应用
type Robot struct {
	id           uint
	userID       uint
	name         string
	description  string
	chatLLMID    uint
	rerankLLMID  uint // 0 表示未配置
	enableRerank bool
	topK         int
	temperature  float64
	maxTokens    int
	systemPrompt string
	knowledgeIDs []uint
	createdAt    time.Time
	updatedAt    time.Time
}

// NewRobot 创建机器人（工厂方法）
func NewRobot(userID uint, name, description string, chatLLMID uint, knowledgeIDs []uint) (*Robot, error) {
	if name == "" {
		return nil, ErrInvalidRobotName
	}
	now := time.Now()
	return &Robot{
		userID:       userID,
		name:         name,
		description:  description,
		chatLLMID:    chatLLMID,
		knowledgeIDs: append([]uint(nil), knowledgeIDs...),
		topK:         DefaultTopK,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// ReconstructRobot 重建机器人（用于从持久化层恢复）
func ReconstructRobot(
	id, userID uint,
	name, description string,
	chatLLMID, rerankLLMID uint,
	enableRerank bool,
	topK int,
	temperature float64,
	maxTokens int,
	systemPrompt string,
	knowledgeIDs []uint,
	createdAt, updatedAt time.Time,
) *Robot {
	return &Robot{
		id:           id,
		userID:       userID,
		name:         name,
		description:  description,
		chatLLMID:    chatLLMID,
		rerankLLMID:  rerankLLMID,
		enableRerank: enableRerank,
		topK:         topK,
		temperature:  temperature,
		maxTokens:    maxTokens,
		systemPrompt: systemPrompt,
		knowledgeIDs: knowledgeIDs,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}

// ID 返回ID
func (r *Robot) ID() uint { return r.id }

// SetID 回填持久化生成的主键
func (r *Robot) SetID(id uint) { r.id = id }

// UserID 返回所属用户ID
func (r *Robot) UserID() uint { return r.userID }

// Name 返回名称
func (r *Robot) Name() string { return r.name }

// Description 返回描述
func (r *Robot) Description() string { return r.description }

// ChatLLMID 返回对话模型ID
func (r *Robot) ChatLLMID() uint { return r.chatLLMID }

// RerankLLMID 返回重排模型ID, 0 表示未配置
func (r *Robot) RerankLLMID() uint { return r.rerankLLMID }

// EnableRerank 返回是否启用重排
func (r *Robot) EnableRerank() bool { return r.enableRerank }

// TopK 返回检索条数
func (r *Robot) TopK() int { return r.topK }

// Temperature 返回采样温度
func (r *Robot) Temperature() float64 { return r.temperature }

// MaxTokens 返回生成上限
func (r *Robot) MaxTokens() int { return r.maxTokens }

// SystemPrompt 返回自定义系统提示词
func (r *Robot) SystemPrompt() string { return r.systemPrompt }

// KnowledgeIDs 返回关联知识库ID列表（副本）
func (r *Robot) KnowledgeIDs() []uint {
	return append([]uint(nil), r.knowledgeIDs...)
}

// CreatedAt 返回创建时间
func (r *Robot) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt 返回更新时间
func (r *Robot) UpdatedAt() time.Time { return r.updatedAt }

// HasKnowledge 判断是否绑定了任何知识库
func (r *Robot) HasKnowledge() bool { return len(r.knowledgeIDs) > 0 }

// OwnedBy 判断归属
func (r *Robot) OwnedBy(userID uint) bool { return r.userID == userID }

// UpdateBasic 更新名称/描述/提示词, 空名保持原样
func (r *Robot) UpdateBasic(name, description, systemPrompt string) {
	if name != "" {
		r.name = name
	}
	r.description = description
	r.systemPrompt = systemPrompt
	r.updatedAt = time.Now()
}

// BindChatLLM 更换对话模型
func (r *Robot) BindChatLLM(llmID uint) {
	r.chatLLMID = llmID
	r.updatedAt = time.Now()
}

// BindRerank 配置重排模型; llmID 为 0 时仅关闭开关
func (r *Robot) BindRerank(llmID uint, enable bool) {
	r.rerankLLMID = llmID
	r.enableRerank = enable && llmID != 0
	r.updatedAt = time.Now()
}

// BindKnowledge 重绑知识库列表
func (r *Robot) BindKnowledge(ids []uint) {
	r.knowledgeIDs = append([]uint(nil), ids...)
	r.updatedAt = time.Now()
}

// TuneGeneration 调整生成参数, 越界值钳到合法范围
func (r *Robot) TuneGeneration(topK int, temperature float64, maxTokens int) {
	if topK < MinTopK {
		topK = MinTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if temperature < 0 {
		temperature = 0
	}
	if temperature > 2 {
		temperature = 2
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	r.topK = topK
	r.temperature = temperature
	r.maxTokens = maxTokens
	r.updatedAt = time.Now()
}
