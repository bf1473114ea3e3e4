package entity

import (
	"path/filepath"
	"strings"
	"time"
)

// 文档状态机: uploading → parsing → splitting → embedding → completed
// 任一阶段失败进入 failed; failed 重试时重置回 uploading
const (
	DocStatusUploading = "uploading"
	DocStatusParsing   = "parsing"
	DocStatusSplitting = "splitting"
	DocStatusEmbedding = "embedding"
	DocStatusCompleted = "completed"
	DocStatusFailed    = "failed"
)

// 状态序, 用于保证只向前迁移
var docStatusOrder = map[string]int{
	DocStatusUploading: 0,
	DocStatusParsing:   1,
	DocStatusSplitting: 2,
	DocStatusEmbedding: 3,
	DocStatusCompleted: 4,
}

// 可走完整流水线的扩展名
var parseableExts = map[string]bool{
	".txt": true, ".md": true,
	".pdf": true, ".docx": true, ".html": true,
}

// 允许上传但不进流水线的媒体扩展名
var mediaExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
}

// Document 文档聚合根
// 解析出的文本不入库, 在流水线消息里传递; 这里只留状态与计数
type Document struct {
	id            uint
	knowledgeID   uint
	fileName      string
	filePath      string
	fileExtension string
	fileSize      int64
	mimeType      string
	status        string
	chunkCount    int
	errorMsg      string
	createdAt     time.Time
	updatedAt     time.Time
}

// NewDocument 创建文档（工厂方法）
func NewDocument(knowledgeID uint, fileName, filePath, mimeType string, fileSize int64) (*Document, error) {
	if fileName == "" {
		return nil, ErrInvalidFileName
	}
	now := time.Now()
	return &Document{
		knowledgeID:   knowledgeID,
		fileName:      fileName,
		filePath:      filePath,
		fileExtension: strings.ToLower(filepath.Ext(fileName)),
		fileSize:      fileSize,
		mimeType:      mimeType,
		status:        DocStatusUploading,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// ReconstructDocument 重建文档（用于从持久化层恢复）
func ReconstructDocument(
	id, knowledgeID uint,
	fileName, filePath, fileExtension string,
	fileSize int64,
	mimeType, status string,
	chunkCount int,
	errorMsg string,
	createdAt, updatedAt time.Time,
) *Document {
	return &Document{
		id:            id,
		knowledgeID:   knowledgeID,
		fileName:      fileName,
		filePath:      filePath,
		fileExtension: fileExtension,
		fileSize:      fileSize,
		mimeType:      mimeType,
		status:        status,
		chunkCount:    chunkCount,
		errorMsg:      errorMsg,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// ID 返回ID
func (d *Document) ID() uint { return d.id }

// SetID 回填持久化生成的主键
func (d *Document) SetID(id uint) { d.id = id }

// KnowledgeID 返回所属知识库ID
func (d *Document) KnowledgeID() uint { return d.knowledgeID }

// FileName 返回原始文件名
func (d *Document) FileName() string { return d.fileName }

// FilePath 返回存储路径
func (d *Document) FilePath() string { return d.filePath }

// FileExtension 返回小写扩展名(含点)
func (d *Document) FileExtension() string { return d.fileExtension }

// FileSize 返回文件字节数
func (d *Document) FileSize() int64 { return d.fileSize }

// MimeType 返回 MIME 类型
func (d *Document) MimeType() string { return d.mimeType }

// Status 返回当前状态
func (d *Document) Status() string { return d.status }

// ChunkCount 返回分块数
func (d *Document) ChunkCount() int { return d.chunkCount }

// ErrorMsg 返回失败原因
func (d *Document) ErrorMsg() string { return d.errorMsg }

// CreatedAt 返回创建时间
func (d *Document) CreatedAt() time.Time { return d.createdAt }

// UpdatedAt 返回更新时间
func (d *Document) UpdatedAt() time.Time { return d.updatedAt }

// TransitionTo 执行状态迁移
// 正常态只允许向前; 任意态可进 failed; failed 只能重置回 uploading
func (d *Document) TransitionTo(next string) error {
	if next == DocStatusFailed {
		d.status = DocStatusFailed
		d.updatedAt = time.Now()
		return nil
	}
	if d.status == DocStatusFailed {
		if next != DocStatusUploading {
			return ErrInvalidStatusTransition
		}
		d.status = DocStatusUploading
		d.errorMsg = ""
		d.updatedAt = time.Now()
		return nil
	}
	cur, ok1 := docStatusOrder[d.status]
	nxt, ok2 := docStatusOrder[next]
	if !ok1 || !ok2 || nxt <= cur {
		return ErrInvalidStatusTransition
	}
	d.status = next
	d.updatedAt = time.Now()
	return nil
}

// SetChunkCount 写入分块数
func (d *Document) SetChunkCount(n int) {
	d.chunkCount = n
	d.updatedAt = time.Now()
}

// Fail 标记失败并记录原因
func (d *Document) Fail(reason string) {
	d.status = DocStatusFailed
	d.errorMsg = reason
	d.updatedAt = time.Now()
}

// IsTerminal 判断是否处于终态
func (d *Document) IsTerminal() bool {
	return d.status == DocStatusCompleted || d.status == DocStatusFailed
}

// IsCompleted 判断是否完成
func (d *Document) IsCompleted() bool { return d.status == DocStatusCompleted }

// IsMedia 判断是否媒体文件(允许上传但不进解析流水线)
func (d *Document) IsMedia() bool { return mediaExts[d.fileExtension] }

// ParseableExt 判断扩展名能否走解析流水线
func ParseableExt(ext string) bool { return parseableExts[strings.ToLower(ext)] }

// AllowedExt 判断扩展名是否允许上传
func AllowedExt(ext string) bool {
	ext = strings.ToLower(ext)
	return parseableExts[ext] || mediaExts[ext]
}
