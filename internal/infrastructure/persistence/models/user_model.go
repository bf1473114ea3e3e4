package models

import "time"

// UserModel 数据库用户模型
type UserModel struct {
	ID                uint   `gorm:"primaryKey"`
	Username          string `gorm:"uniqueIndex;size:64;not null"`
	Email             string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash      string `gorm:"size:255;not null"`
	Role              string `gorm:"size:16;not null"`
	IsActive          bool
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName 指定表名
func (UserModel) TableName() string {
	return "users"
}
