package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
)

// RecallHandler 召回评测 API
type RecallHandler struct {
	recall *usecase.RecallUseCase
	logger *zap.Logger
}

// NewRecallHandler 创建召回评测处理器
func NewRecallHandler(recall *usecase.RecallUseCase, logger *zap.Logger) *RecallHandler {
	return &RecallHandler{recall: recall, logger: logger}
}

// Start POST /api/v1/recall/test
func (h *RecallHandler) Start(c *gin.Context) {
	var in usecase.StartRecallInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	task, err := h.recall.Start(c.Request.Context(), UserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Status GET /api/v1/recall/status/{taskId}
func (h *RecallHandler) Status(c *gin.Context) {
	task, err := h.recall.Status(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Cancel DELETE /api/v1/recall/status/{taskId}
// 删除任务键, worker 在下一次进度写入时感知并中止
func (h *RecallHandler) Cancel(c *gin.Context) {
	if err := h.recall.Cancel(c.Request.Context(), c.Param("taskId")); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
