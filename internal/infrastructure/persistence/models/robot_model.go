package models

import "time"

// RobotModel 数据库机器人模型
type RobotModel struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       uint   `gorm:"index;not null"`
	Name         string `gorm:"size:128;not null"`
	Description  string `gorm:"type:text"`
	ChatLLMID    uint
	RerankLLMID  uint
	EnableRerank bool
	TopK         int
	Temperature  float64
	MaxTokens    int
	SystemPrompt string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 指定表名
func (RobotModel) TableName() string {
	return "robots"
}

// RobotKnowledgeModel 机器人与知识库的关系表
type RobotKnowledgeModel struct {
	RobotID     uint `gorm:"primaryKey;autoIncrement:false"`
	KnowledgeID uint `gorm:"primaryKey;autoIncrement:false;index"`
}

// TableName 指定表名
func (RobotKnowledgeModel) TableName() string {
	return "robot_knowledge"
}
