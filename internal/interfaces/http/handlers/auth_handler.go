package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// AuthHandler 认证与用户管理 API
type AuthHandler struct {
	auth   *usecase.AuthUseCase
	logger *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(auth *usecase.AuthUseCase, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// Register POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var in usecase.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	user, err := h.auth.Register(c.Request.Context(), in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var in LoginRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	result, err := h.auth.Login(c.Request.Context(), in.Username, in.Password)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Me GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.auth.Me(c.Request.Context(), UserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Refresh POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	result, err := h.auth.Refresh(c.Request.Context(), UserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword PUT /api/v1/auth/password
// 成功后历史 token 全部失效
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var in ChangePasswordRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), UserID(c), in.OldPassword, in.NewPassword); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "密码已修改, 请重新登录"})
}

// ListUsers GET /api/v1/users (仅管理员)
func (h *AuthHandler) ListUsers(c *gin.Context) {
	if Role(c) != entity.RoleAdmin {
		Fail(c, apperrors.NewForbiddenError("仅管理员可访问"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	users, total, err := h.auth.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": users, "total": total})
}

// SetUserStatusRequest 启停用户请求
type SetUserStatusRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// SetUserStatus PUT /api/v1/users/{id}/status (仅管理员)
func (h *AuthHandler) SetUserStatus(c *gin.Context) {
	if Role(c) != entity.RoleAdmin {
		Fail(c, apperrors.NewForbiddenError("仅管理员可访问"))
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	var in SetUserStatusRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	if err := h.auth.SetUserStatus(c.Request.Context(), UserID(c), id, *in.IsActive); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// pathID 解析路径里的数字ID
func pathID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
