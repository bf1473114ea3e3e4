package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
)

// RobotHandler 机器人 API
type RobotHandler struct {
	robots *usecase.RobotUseCase
	logger *zap.Logger
}

// NewRobotHandler 创建机器人处理器
func NewRobotHandler(robots *usecase.RobotUseCase, logger *zap.Logger) *RobotHandler {
	return &RobotHandler{robots: robots, logger: logger}
}

// Create POST /api/v1/robots
func (h *RobotHandler) Create(c *gin.Context) {
	var in usecase.CreateRobotInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.robots.Create(c.Request.Context(), UserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// List GET /api/v1/robots
func (h *RobotHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	views, total, err := h.robots.List(c.Request.Context(), UserID(c), limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": views, "total": total})
}

// Get GET /api/v1/robots/{id}
func (h *RobotHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.robots.Get(c.Request.Context(), UserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Update PUT /api/v1/robots/{id}
func (h *RobotHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	var in usecase.UpdateRobotInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.robots.Update(c.Request.Context(), UserID(c), id, in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Delete DELETE /api/v1/robots/{id}
func (h *RobotHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	if err := h.robots.Delete(c.Request.Context(), UserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// RetrievalTest POST /api/v1/robots/{id}/retrieval-test
// 外层有每用户 30 次/分钟的限速
func (h *RobotHandler) RetrievalTest(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	var in usecase.RetrievalTestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	chunks, err := h.robots.RetrievalTest(c.Request.Context(), UserID(c), id, in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": chunks, "total": len(chunks)})
}
