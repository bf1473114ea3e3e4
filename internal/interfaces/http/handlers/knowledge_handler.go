package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
)

// KnowledgeHandler 知识库 API
type KnowledgeHandler struct {
	knowledge *usecase.KnowledgeUseCase
	logger    *zap.Logger
}

// NewKnowledgeHandler 创建知识库处理器
func NewKnowledgeHandler(knowledge *usecase.KnowledgeUseCase, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge, logger: logger}
}

// Create POST /api/v1/knowledge
func (h *KnowledgeHandler) Create(c *gin.Context) {
	var in usecase.CreateKnowledgeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.knowledge.Create(c.Request.Context(), UserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// List GET /api/v1/knowledge
func (h *KnowledgeHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	views, total, err := h.knowledge.List(c.Request.Context(), UserID(c), limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": views, "total": total})
}

// Get GET /api/v1/knowledge/{id}
func (h *KnowledgeHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.knowledge.Get(c.Request.Context(), UserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Update PUT /api/v1/knowledge/{id}
func (h *KnowledgeHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	var in usecase.UpdateKnowledgeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.knowledge.Update(c.Request.Context(), UserID(c), id, in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Delete DELETE /api/v1/knowledge/{id}
func (h *KnowledgeHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	if err := h.knowledge.Delete(c.Request.Context(), UserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
