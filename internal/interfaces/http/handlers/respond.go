package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// 认证中间件写入的上下文键
const (
	CtxUserID   = "auth_user_id"
	CtxUsername = "auth_username"
	CtxRole     = "auth_role"
)

// ErrorBody 统一错误包络
type ErrorBody struct {
	Code   string `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

var codeStatus = map[apperrors.ErrorCode]int{
	apperrors.CodeInvalidInput:    http.StatusUnprocessableEntity,
	apperrors.CodeUnauthorized:    http.StatusUnauthorized,
	apperrors.CodeForbidden:       http.StatusForbidden,
	apperrors.CodeNotFound:        http.StatusNotFound,
	apperrors.CodeAlreadyExists:   http.StatusConflict,
	apperrors.CodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	apperrors.CodeRateLimited:     http.StatusTooManyRequests,
	apperrors.CodeInternal:        http.StatusInternalServerError,
	apperrors.CodeServiceUnavail:  http.StatusServiceUnavailable,
}

// Fail 按业务错误码写错误包络; 未知错误按 500 处理
func Fail(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorBody{
			Code: string(apperrors.CodeInternal),
			Msg:  "服务内部错误",
		})
		return
	}
	status, ok := codeStatus[appErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := ErrorBody{Code: string(appErr.Code), Msg: appErr.Message}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		// 内部细节不出网
		body.Msg = "服务内部错误"
	}
	c.JSON(status, body)
}

// BadRequest 请求体解析/校验失败, 422
func BadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, ErrorBody{
		Code:   string(apperrors.CodeInvalidInput),
		Msg:    "请求参数不合法",
		Detail: err.Error(),
	})
}

// UserID 读取认证中间件写入的用户ID
func UserID(c *gin.Context) uint {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return 0
	}
	id, _ := v.(uint)
	return id
}

// Role 读取当前用户角色
func Role(c *gin.Context) string {
	v, ok := c.Get(CtxRole)
	if !ok {
		return ""
	}
	role, _ := v.(string)
	return role
}
