package safego

import (
	"go.uber.org/zap"
)

// Go 启动一个带 panic 兜底的 goroutine
// 常驻后台任务(流水线消费者、归档器、SSE 推流)panic 时记日志退出,
// 不连累整个进程
//
//	safego.Go(logger, "pipeline-parser", func() {
//	    // 可能 panic 的常驻工作
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
