package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// LLMHandler 模型注册表与凭据 API
// 凭据只进不出: 响应里的 key 永远是掩码
type LLMHandler struct {
	llms   *usecase.LLMUseCase
	logger *zap.Logger
}

// NewLLMHandler 创建模型处理器
func NewLLMHandler(llms *usecase.LLMUseCase, logger *zap.Logger) *LLMHandler {
	return &LLMHandler{llms: llms, logger: logger}
}

func (h *LLMHandler) requireAdmin(c *gin.Context) bool {
	if Role(c) != entity.RoleAdmin {
		Fail(c, apperrors.NewForbiddenError("仅管理员可管理模型配置"))
		return false
	}
	return true
}

// CreateLLM POST /api/v1/llms
func (h *LLMHandler) CreateLLM(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}
	var in usecase.CreateLLMInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.llms.CreateLLM(c.Request.Context(), in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListLLMs GET /api/v1/llms
func (h *LLMHandler) ListLLMs(c *gin.Context) {
	views, err := h.llms.ListLLMs(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": views})
}

// GetLLM GET /api/v1/llms/{id}
func (h *LLMHandler) GetLLM(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.llms.GetLLM(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateLLM PUT /api/v1/llms/{id}
func (h *LLMHandler) UpdateLLM(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	var in usecase.UpdateLLMInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.llms.UpdateLLM(c.Request.Context(), id, in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DeleteLLM DELETE /api/v1/llms/{id}
func (h *LLMHandler) DeleteLLM(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	if err := h.llms.DeleteLLM(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// CreateAPIKey POST /api/v1/apikeys
func (h *LLMHandler) CreateAPIKey(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}
	var in usecase.CreateAPIKeyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.llms.CreateAPIKey(c.Request.Context(), in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListAPIKeys GET /api/v1/apikeys
func (h *LLMHandler) ListAPIKeys(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}
	views, err := h.llms.ListAPIKeys(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": views})
}

// DeleteAPIKey DELETE /api/v1/apikeys/{id}
func (h *LLMHandler) DeleteAPIKey(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	if err := h.llms.DeleteAPIKey(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
