package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/config"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/logger"
)

const (
	workerName    = "ragforge-worker"
	workerVersion = "0.3.0"
)

func main() {
	var stage string

	rootCmd := &cobra.Command{
		Use:   workerName,
		Short: "RAGForge 流水线 worker",
		Long:  "消费文档摄取与召回评测消息的后台进程, 每个进程只消费一个阶段, 按阶段独立扩缩容",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(stage)
		},
	}
	rootCmd.Flags().StringVar(&stage, "stage", "",
		"流水线阶段: parser | splitter | vectorizer | recall")
	rootCmd.MarkFlagRequired("stage")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", workerName, workerVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(stage string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Kafka.Mode != "kafka" {
		return fmt.Errorf("standalone worker requires kafka.mode=kafka, got %q", cfg.Kafka.Mode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting pipeline worker",
		zap.String("name", workerName),
		zap.String("version", workerVersion),
		zap.String("stage", stage),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize application", zap.Error(err))
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- app.RunWorker(ctx, stage)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-done
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			log.Error("worker stopped unexpectedly", zap.Error(err))
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return app.Stop(shutdownCtx)
}
