package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// Claims JWT 载荷, sub 同步携带用户 ID 字符串形式
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager 签发与校验 HS256 令牌
type TokenManager struct {
	secret []byte
	expire time.Duration
}

// NewTokenManager 创建令牌管理器
func NewTokenManager(secret string, expire time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), expire: expire}
}

// Generate 为用户签发令牌
func (tm *TokenManager) Generate(user *entity.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID(),
		Username: user.Username(),
		Role:     user.Role(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expire)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", domainErrors.NewInternalError("failed to sign token: " + err.Error())
	}
	return signed, nil
}

// Parse 校验签名与有效期, 返回载荷
func (tm *TokenManager) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, domainErrors.NewUnauthorizedError("登录状态已失效, 请重新登录")
	}
	return claims, nil
}

// IssuedAt 返回令牌签发时间, 缺失时为零值
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}
