package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize  = 1024
	memoryMaxAttempts = 3
)

// Memory 单进程内存总线, 开发模式下替代 Kafka
// 每个 topic+group 一条缓冲队列; 同组多次 Subscribe 构成竞争消费;
// 尚无订阅者的消息进入 pending, 首个订阅组到来时补投
type Memory struct {
	mu      sync.Mutex
	queues  map[string]map[string]chan []byte
	pending map[string][][]byte
	closed  bool
	logger  *zap.Logger
}

// NewMemory 创建内存总线
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		queues:  make(map[string]map[string]chan []byte),
		pending: make(map[string][][]byte),
		logger:  logger.Named("membus"),
	}
}

var _ Bus = (*Memory)(nil)

// Publish 投递消息到 topic 下所有消费组
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if len(payload) > MaxMessageBytes {
		return fmt.Errorf("message for %s exceeds %d bytes", topic, MaxMessageBytes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("bus closed")
	}

	groups := m.queues[topic]
	if len(groups) == 0 {
		m.pending[topic] = append(m.pending[topic], payload)
		return nil
	}
	for group, ch := range groups {
		select {
		case ch <- payload:
		default:
			return fmt.Errorf("queue full for %s/%s", topic, group)
		}
	}
	return nil
}

// Subscribe 以 group 身份消费 topic, 阻塞到 ctx 取消或总线关闭
func (m *Memory) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("bus closed")
	}
	if m.queues[topic] == nil {
		m.queues[topic] = make(map[string]chan []byte)
	}
	ch, ok := m.queues[topic][group]
	if !ok {
		ch = make(chan []byte, defaultQueueSize)
		m.queues[topic][group] = ch
		// 补投订阅前积压的消息
		for _, payload := range m.pending[topic] {
			select {
			case ch <- payload:
			default:
			}
		}
		delete(m.pending, topic)
	}
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			m.process(ctx, topic, group, payload, handler)
		}
	}
}

// process 带退避重试地执行处理器; 重试耗尽后丢弃并记日志
func (m *Memory) process(ctx context.Context, topic, group string, payload []byte, handler Handler) {
	var err error
	for attempt := 0; attempt < memoryMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second << (attempt - 1)):
			}
		}
		if err = handler(ctx, payload); err == nil {
			return
		}
		m.logger.Warn("handler failed",
			zap.String("topic", topic),
			zap.String("group", group),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	m.logger.Error("message dropped after retries",
		zap.String("topic", topic),
		zap.String("group", group),
		zap.Error(err))
}

// Close 关闭总线并唤醒全部订阅者
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, groups := range m.queues {
		for _, ch := range groups {
			close(ch)
		}
	}
	m.queues = make(map[string]map[string]chan []byte)
	m.logger.Info("memory bus closed")
	return nil
}
