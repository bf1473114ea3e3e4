package handlers

import (
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// thumbMaxEdge 缩略图最长边像素
const thumbMaxEdge = 256

// DocumentHandler 文档 API
type DocumentHandler struct {
	documents *usecase.DocumentUseCase
	logger    *zap.Logger
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(documents *usecase.DocumentUseCase, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{documents: documents, logger: logger}
}

// Upload POST /api/v1/documents/upload?knowledge_id=
// multipart 表单, 文件字段名 file
func (h *DocumentHandler) Upload(c *gin.Context) {
	knowledgeID, err := strconv.ParseUint(c.Query("knowledge_id"), 10, 32)
	if err != nil {
		BadRequest(c, err)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, err)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		Fail(c, apperrors.NewInvalidInputError("无法读取上传文件"))
		return
	}
	defer f.Close()

	view, err := h.documents.Upload(
		c.Request.Context(),
		UserID(c),
		uint(knowledgeID),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		f,
	)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// List GET /api/v1/documents?knowledge_id=
func (h *DocumentHandler) List(c *gin.Context) {
	knowledgeID, err := strconv.ParseUint(c.Query("knowledge_id"), 10, 32)
	if err != nil {
		BadRequest(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")
	views, total, err := h.documents.List(c.Request.Context(), UserID(c), uint(knowledgeID), status, limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": views, "total": total})
}

// Get GET /api/v1/documents/{id}
func (h *DocumentHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.documents.Get(c.Request.Context(), UserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Delete DELETE /api/v1/documents/{id}
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	if err := h.documents.Delete(c.Request.Context(), UserID(c), id); err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Retry POST /api/v1/documents/{id}/retry
func (h *DocumentHandler) Retry(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	view, err := h.documents.Retry(c.Request.Context(), UserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Preview GET /api/v1/documents/{id}/preview
// 按原始 MIME 流式回放文件
func (h *DocumentHandler) Preview(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	f, view, err := h.documents.Preview(c.Request.Context(), UserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	defer f.Close()

	contentType := view.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `inline; filename="`+view.FileName+`"`)
	c.DataFromReader(http.StatusOK, view.FileSize, contentType, f, nil)
}

// Thumb GET /api/v1/documents/{id}/thumb
// 仅图片文件, 非图片 415
func (h *DocumentHandler) Thumb(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		BadRequest(c, err)
		return
	}
	f, view, err := h.documents.Preview(c.Request.Context(), UserID(c), id)
	if err != nil {
		Fail(c, err)
		return
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(view.FileName))
	switch ext {
	case ".jpg", ".jpeg", ".png":
	default:
		c.JSON(http.StatusUnsupportedMediaType, ErrorBody{
			Code: "UNSUPPORTED_MEDIA_TYPE",
			Msg:  "只支持图片缩略图",
		})
		return
	}

	src, _, err := image.Decode(f)
	if err != nil {
		h.logger.Warn("thumbnail decode failed", zap.Uint("document_id", id), zap.Error(err))
		c.JSON(http.StatusUnsupportedMediaType, ErrorBody{
			Code: "UNSUPPORTED_MEDIA_TYPE",
			Msg:  "图片解码失败",
		})
		return
	}

	c.Header("Content-Type", "image/jpeg")
	c.Status(http.StatusOK)
	if err := jpeg.Encode(c.Writer, downscale(src, thumbMaxEdge), &jpeg.Options{Quality: 80}); err != nil {
		h.logger.Warn("thumbnail encode failed", zap.Uint("document_id", id), zap.Error(err))
	}
}

// downscale 最近邻缩放到最长边不超过 maxEdge, 小图原样返回
func downscale(src image.Image, maxEdge int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return src
	}
	scale := float64(maxEdge) / float64(w)
	if h > w {
		scale = float64(maxEdge) / float64(h)
	}
	dw, dh := int(float64(w)*scale), int(float64(h)*scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		sy := bounds.Min.Y + y*h/dh
		for x := 0; x < dw; x++ {
			sx := bounds.Min.X + x*w/dw
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
