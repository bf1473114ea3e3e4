package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/auth"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// UserView 对外返回的用户信息, 永不携带密码哈希
type UserView struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserView(u *entity.User) UserView {
	return UserView{
		ID:        u.ID(),
		Username:  u.Username(),
		Email:     u.Email(),
		Role:      u.Role(),
		IsActive:  u.IsActive(),
		CreatedAt: u.CreatedAt(),
	}
}

// RegisterInput 注册请求
type RegisterInput struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResult 登录结果
type LoginResult struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

// AuthUseCase 认证与用户管理
type AuthUseCase struct {
	users  repository.UserRepository
	tokens *auth.TokenManager
	logger *zap.Logger
}

// NewAuthUseCase 创建认证用例
func NewAuthUseCase(users repository.UserRepository, tokens *auth.TokenManager, logger *zap.Logger) *AuthUseCase {
	return &AuthUseCase{users: users, tokens: tokens, logger: logger.Named("auth")}
}

// Register 注册用户
func (uc *AuthUseCase) Register(ctx context.Context, in RegisterInput) (*UserView, error) {
	if err := entity.ValidatePassword(in.Password); err != nil {
		return nil, apperrors.NewInvalidInputError("密码需 8-32 位且同时包含字母和数字")
	}
	if _, err := uc.users.FindByUsername(ctx, in.Username); err == nil {
		return nil, apperrors.NewAlreadyExistsError("用户名已被占用")
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}
	if _, err := uc.users.FindByEmail(ctx, in.Email); err == nil {
		return nil, apperrors.NewAlreadyExistsError("邮箱已被注册")
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("密码加密失败", err)
	}
	user, err := entity.NewUser(in.Username, in.Email, string(hash), entity.RoleUser)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := uc.users.Save(ctx, user); err != nil {
		return nil, err
	}

	uc.logger.Info("user registered", zap.Uint("user_id", user.ID()), zap.String("username", user.Username()))
	view := toUserView(user)
	return &view, nil
}

// Login 校验口令并签发 JWT
func (uc *AuthUseCase) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := uc.users.FindByUsername(ctx, username)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewUnauthorizedError("用户名或密码错误")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash()), []byte(password)); err != nil {
		return nil, apperrors.NewUnauthorizedError("用户名或密码错误")
	}
	if !user.IsActive() {
		return nil, apperrors.NewForbiddenError("账号已停用")
	}

	token, err := uc.tokens.Generate(user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, User: toUserView(user)}, nil
}

// Me 返回当前用户
func (uc *AuthUseCase) Me(ctx context.Context, userID uint) (*UserView, error) {
	user, err := uc.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := toUserView(user)
	return &view, nil
}

// Refresh 为在线用户重新签发 JWT
func (uc *AuthUseCase) Refresh(ctx context.Context, userID uint) (*LoginResult, error) {
	user, err := uc.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, apperrors.NewForbiddenError("账号已停用")
	}
	token, err := uc.tokens.Generate(user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, User: toUserView(user)}, nil
}

// ChangePassword 修改自己的密码; 改密后旧 token 按签发时间全部失效
func (uc *AuthUseCase) ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword string) error {
	user, err := uc.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash()), []byte(oldPassword)); err != nil {
		return apperrors.NewUnauthorizedError("原密码错误")
	}
	if err := entity.ValidatePassword(newPassword); err != nil {
		return apperrors.NewInvalidInputError("密码需 8-32 位且同时包含字母和数字")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("密码加密失败", err)
	}
	user.ChangePassword(string(hash), time.Now())
	return uc.users.Save(ctx, user)
}

// VerifyToken 解析 JWT 并核对用户状态与改密时间
// 中间件的唯一入口: 停用用户与改密前签发的 token 都在这里被拒绝
func (uc *AuthUseCase) VerifyToken(ctx context.Context, token string) (*entity.User, *auth.Claims, error) {
	claims, err := uc.tokens.Parse(token)
	if err != nil {
		return nil, nil, err
	}
	user, err := uc.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil, apperrors.NewUnauthorizedError("用户不存在")
		}
		return nil, nil, err
	}
	if !user.IsActive() {
		return nil, nil, apperrors.NewForbiddenError("账号已停用")
	}
	if user.TokenIssuedBeforePasswordChange(claims.IssuedAtTime()) {
		return nil, nil, apperrors.NewUnauthorizedError("密码已修改, 请重新登录")
	}
	return user, claims, nil
}

// ListUsers 管理员分页列出用户
func (uc *AuthUseCase) ListUsers(ctx context.Context, limit, offset int) ([]UserView, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	users, err := uc.users.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := uc.users.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, toUserView(u))
	}
	return views, total, nil
}

// SetUserStatus 管理员启停用户
func (uc *AuthUseCase) SetUserStatus(ctx context.Context, operatorID, targetID uint, active bool) error {
	if operatorID == targetID && !active {
		return apperrors.NewInvalidInputError("不能停用自己")
	}
	user, err := uc.users.FindByID(ctx, targetID)
	if err != nil {
		return err
	}
	if active {
		user.Activate()
	} else {
		user.Deactivate()
	}
	return uc.users.Save(ctx, user)
}
