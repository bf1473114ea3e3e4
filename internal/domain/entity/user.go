package entity

import (
	"time"
	"unicode"
)

// 用户角色
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User 用户聚合根
// 持有密码哈希而非明文, 哈希算法由应用层注入
type User struct {
	id                uint
	username          string
	email             string
	passwordHash      string
	role              string
	isActive          bool
	passwordChangedAt *time.Time
	createdAt         time.Time
	updatedAt         time.Time
}

// NewUser 创建新用户（工厂方法）
func NewUser(username, email, passwordHash, role string) (*User, error) {
	if username == "" {
		return nil, ErrInvalidUsername
	}
	if email == "" {
		return nil, ErrInvalidEmail
	}
	if role == "" {
		role = RoleUser
	}

	now := time.Now()
	return &User{
		username:     username,
		email:        email,
		passwordHash: passwordHash,
		role:         role,
		isActive:     true,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// ReconstructUser 重建用户（用于从持久化层恢复）
func ReconstructUser(
	id uint,
	username, email, passwordHash, role string,
	isActive bool,
	passwordChangedAt *time.Time,
	createdAt, updatedAt time.Time,
) *User {
	return &User{
		id:                id,
		username:          username,
		email:             email,
		passwordHash:      passwordHash,
		role:              role,
		isActive:          isActive,
		passwordChangedAt: passwordChangedAt,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

// ID 返回用户ID
func (u *User) ID() uint { return u.id }

// SetID 回填持久化生成的主键
func (u *User) SetID(id uint) { u.id = id }

// Username 返回用户名
func (u *User) Username() string { return u.username }

// Email 返回邮箱
func (u *User) Email() string { return u.email }

// PasswordHash 返回密码哈希
func (u *User) PasswordHash() string { return u.passwordHash }

// Role 返回角色
func (u *User) Role() string { return u.role }

// IsActive 返回启用状态
func (u *User) IsActive() bool { return u.isActive }

// PasswordChangedAt 返回最近一次改密时间
func (u *User) PasswordChangedAt() *time.Time { return u.passwordChangedAt }

// CreatedAt 返回创建时间
func (u *User) CreatedAt() time.Time { return u.createdAt }

// UpdatedAt 返回更新时间
func (u *User) UpdatedAt() time.Time { return u.updatedAt }

// IsAdmin 判断是否管理员
func (u *User) IsAdmin() bool { return u.role == RoleAdmin }

// ChangePassword 更新密码哈希并记录改密时间
// 改密时间用于判定旧 token 失效
func (u *User) ChangePassword(newHash string, at time.Time) {
	u.passwordHash = newHash
	u.passwordChangedAt = &at
	u.updatedAt = at
}

// UpdateEmail 更新邮箱
func (u *User) UpdateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	u.email = email
	u.updatedAt = time.Now()
	return nil
}

// Deactivate 停用用户
func (u *User) Deactivate() {
	u.isActive = false
	u.updatedAt = time.Now()
}

// Activate 启用用户
func (u *User) Activate() {
	u.isActive = true
	u.updatedAt = time.Now()
}

// TokenIssuedBeforePasswordChange 判断 token 签发时间是否早于改密时间
// 早于改密时间的 token 一律视为失效
func (u *User) TokenIssuedBeforePasswordChange(issuedAt time.Time) bool {
	if u.passwordChangedAt == nil {
		return false
	}
	return issuedAt.Before(*u.passwordChangedAt)
}

// ValidatePassword 校验明文密码强度: 8-32 位, 至少一个字母和一个数字
func ValidatePassword(password string) error {
	n := len([]rune(password))
	if n < 8 || n > 32 {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}
