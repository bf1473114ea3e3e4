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
	appName    = "ragforge-server"
	appVersion = "0.3.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "RAGForge API 服务",
		Long:  "RAGForge 知识库问答后端, 提供认证、知识库管理、文档摄取入队与检索增强对话 API",
		RunE:  runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
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

	log.Info("starting ragforge",
		zap.String("name", appName),
		zap.String("version", appVersion),
		zap.String("addr", cfg.Server.Addr()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize application", zap.Error(err))
		return err
	}
	if err := app.Start(ctx); err != nil {
		log.Error("failed to start application", zap.Error(err))
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return app.Stop(shutdownCtx)
}
