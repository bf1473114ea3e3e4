package bus

import (
	"context"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
)

// 文档入库流水线与召回评测的主题
const (
	TopicDocUpload  = "doc.upload"
	TopicDocParsed  = "doc.parsed"
	TopicDocChunks  = "doc.chunks"
	TopicRecallTest = "recall.test"
)

// 每个阶段一个消费组
const (
	GroupParser     = "parser_group"
	GroupSplitter   = "splitter_group"
	GroupVectorizer = "vectorizer_group"
	GroupRecall     = "recall_group"
)

// MaxMessageBytes 单条消息上限
// doc.chunks 携带整篇文档的全部分块, 需要比默认值宽裕得多
const MaxMessageBytes = 10 << 20

// Handler 消费回调; 返回 nil 才提交位点, 出错则不提交等待重投
type Handler func(ctx context.Context, payload []byte) error

// Bus 阶段间的工作队列
// 至少一次投递; 处理器须按 document_id 幂等
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe 以 group 身份消费 topic, 阻塞到 ctx 取消
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
	Close() error
}

// DocUploadMessage 上传完成, 等待解析
type DocUploadMessage struct {
	DocumentID  uint   `json:"document_id"`
	FilePath    string `json:"file_path"`
	FileName    string `json:"file_name"`
	KnowledgeID uint   `json:"knowledge_id"`
}

// DocParsedMessage 解析完成, 等待切分
type DocParsedMessage struct {
	DocumentID  uint   `json:"document_id"`
	Content     string `json:"content"`
	KnowledgeID uint   `json:"knowledge_id"`
	FileName    string `json:"file_name"`
}

// DocChunksMessage 切分完成, 等待向量化
type DocChunksMessage struct {
	DocumentID  uint                `json:"document_id"`
	Chunks      []valueobject.Chunk `json:"chunks"`
	KnowledgeID uint                `json:"knowledge_id"`
	FileName    string              `json:"file_name"`
}

// RecallTestMessage 召回评测任务
type RecallTestMessage struct {
	TaskID       string                    `json:"task_id"`
	Queries      []valueobject.RecallQuery `json:"queries"`
	TopN         int                       `json:"top_n"`
	Threshold    float64                   `json:"threshold"`
	KnowledgeIDs []uint                    `json:"knowledge_ids"`
	RobotID      uint                      `json:"robot_id,omitempty"`
	UserID       uint                      `json:"user_id"`
}
