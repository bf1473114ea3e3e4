package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
)

// ChatHandler 对话 API
type ChatHandler struct {
	chat     *usecase.ChatUseCase
	sessions *usecase.SessionUseCase
	logger   *zap.Logger
}

// NewChatHandler 创建对话处理器
func NewChatHandler(chat *usecase.ChatUseCase, sessions *usecase.SessionUseCase, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, sessions: sessions, logger: logger}
}

// Ask POST /api/v1/chat/ask
func (h *ChatHandler) Ask(c *gin.Context) {
	var in usecase.ChatInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	result, err := h.chat.Ask(c.Request.Context(), UserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AskStream POST /api/v1/chat/ask/stream
// SSE: 每帧 "event: <speech_type>\ndata: <json>\n\n", 逐帧刷出
func (h *ChatHandler) AskStream(c *gin.Context) {
	var in usecase.ChatInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	events, err := h.chat.AskStream(c.Request.Context(), UserID(c), in)
	if err != nil {
		Fail(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	for ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			h.logger.Error("failed to marshal stream event",
				zap.String("type", ev.Type), zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			// 客户端断开, 继续清空通道让上游完成落库
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	RobotID uint   `json:"robot_id" binding:"required"`
	Title   string `json:"title"`
}

// CreateSession POST /api/v1/chat/sessions
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var in CreateSessionRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.sessions.Create(c.Request.Context(), UserID(c), in.RobotID, in.Title)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListSessions GET /api/v1/chat/sessions
func (h *ChatHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")
	views, total, err := h.sessions.List(c.Request.Context(), UserID(c), status, limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": views, "total": total})
}

// GetSession GET /api/v1/chat/sessions/{sid}
func (h *ChatHandler) GetSession(c *gin.Context) {
	view, err := h.sessions.Get(c.Request.Context(), UserID(c), c.Param("sid"))
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateSession PUT /api/v1/chat/sessions/{sid}
func (h *ChatHandler) UpdateSession(c *gin.Context) {
	var in usecase.UpdateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.sessions.Update(c.Request.Context(), UserID(c), c.Param("sid"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DeleteSession DELETE /api/v1/chat/sessions/{sid}
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), UserID(c), c.Param("sid")); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Feedback POST /api/v1/chat/feedback
func (h *ChatHandler) Feedback(c *gin.Context) {
	var in usecase.FeedbackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, err)
		return
	}
	if err := h.sessions.Feedback(c.Request.Context(), UserID(c), in); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// History GET /api/v1/chat/history/{sid}
func (h *ChatHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	views, err := h.sessions.History(c.Request.Context(), UserID(c), c.Param("sid"), limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": views, "total": len(views)})
}
