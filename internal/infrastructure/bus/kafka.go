package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka 基于 Kafka 的总线实现
// 位点在处理器成功返回后显式提交, 处理失败不提交, 依赖重平衡或重启重投
type Kafka struct {
	brokers []string
	writer  *kafka.Writer
	logger  *zap.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
}

// NewKafka 创建 Kafka 总线
func NewKafka(brokers []string, logger *zap.Logger) *Kafka {
	return &Kafka{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			BatchBytes:             MaxMessageBytes,
			AllowAutoTopicCreation: true,
		},
		logger: logger.Named("kafka"),
	}
}

var _ Bus = (*Kafka)(nil)

// Publish 同步写入一条消息
func (k *Kafka) Publish(ctx context.Context, topic string, payload []byte) error {
	if len(payload) > MaxMessageBytes {
		return fmt.Errorf("message for %s exceeds %d bytes", topic, MaxMessageBytes)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe 以 group 身份消费 topic, 阻塞到 ctx 取消
// 新消费组从最早位点起步, 保证上线前积压的文档也会被处理
func (k *Kafka) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       MaxMessageBytes,
		MaxWait:        time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // 同步提交
	})
	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	k.logger.Info("consumer started",
		zap.String("topic", topic), zap.String("group", group))

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %s/%s: %w", topic, group, err)
		}

		if err := handler(ctx, msg.Value); err != nil {
			k.logger.Error("handler failed, offset not committed",
				zap.String("topic", topic),
				zap.String("group", group),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger.Error("commit failed",
				zap.String("topic", topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// Close 关闭 writer 与所有 reader
func (k *Kafka) Close() error {
	var first error
	if err := k.writer.Close(); err != nil {
		first = err
	}
	k.mu.Lock()
	readers := k.readers
	k.readers = nil
	k.mu.Unlock()
	for _, r := range readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
