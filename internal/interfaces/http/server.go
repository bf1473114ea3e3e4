package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/monitoring"
	"github.com/ragforge/ragforge/backend/internal/interfaces/http/handlers"
)

// Config HTTP 服务配置
type Config struct {
	Addr          string
	Mode          string // debug, release
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration // 0 = 不限, SSE 需要
	AllowOrigins  []string
	RecallPerMin  int
}

// UseCases 路由依赖的全部用例
type UseCases struct {
	Auth      *usecase.AuthUseCase
	LLM       *usecase.LLMUseCase
	Knowledge *usecase.KnowledgeUseCase
	Document  *usecase.DocumentUseCase
	Robot     *usecase.RobotUseCase
	Chat      *usecase.ChatUseCase
	Session   *usecase.SessionUseCase
	Recall    *usecase.RecallUseCase
}

// Server HTTP 服务
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer 组装路由与中间件
func NewServer(cfg Config, ucs UseCases, index service.ChunkIndex, monitor *monitoring.Monitor, logger *zap.Logger) *Server {
	if cfg.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowOrigins))
	router.Use(ginLogger(logger.Named("http"), monitor))

	authHandler := handlers.NewAuthHandler(ucs.Auth, logger)
	llmHandler := handlers.NewLLMHandler(ucs.LLM, logger)
	knowledgeHandler := handlers.NewKnowledgeHandler(ucs.Knowledge, logger)
	documentHandler := handlers.NewDocumentHandler(ucs.Document, logger)
	robotHandler := handlers.NewRobotHandler(ucs.Robot, logger)
	chatHandler := handlers.NewChatHandler(ucs.Chat, ucs.Session, logger)
	recallHandler := handlers.NewRecallHandler(ucs.Recall, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})
	router.GET("/health/es", func(c *gin.Context) {
		if index.Degraded() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "analyzer": "standard"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "analyzer": "ik"})
	})
	router.GET("/metrics", gin.WrapH(monitor.PrometheusHandler()))

	requireAuth := authMiddleware(ucs.Auth)
	recallLimiter := newUserRateLimiter(cfg.RecallPerMin)

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/me", requireAuth, authHandler.Me)
			auth.POST("/refresh", requireAuth, authHandler.Refresh)
			auth.PUT("/password", requireAuth, authHandler.ChangePassword)
		}

		users := v1.Group("/users", requireAuth)
		{
			users.GET("", authHandler.ListUsers)
			users.PUT("/:id/status", authHandler.SetUserStatus)
		}

		llms := v1.Group("/llms", requireAuth)
		{
			llms.POST("", llmHandler.CreateLLM)
			llms.GET("", llmHandler.ListLLMs)
			llms.GET("/:id", llmHandler.GetLLM)
			llms.PUT("/:id", llmHandler.UpdateLLM)
			llms.DELETE("/:id", llmHandler.DeleteLLM)
		}

		apikeys := v1.Group("/apikeys", requireAuth)
		{
			apikeys.POST("", llmHandler.CreateAPIKey)
			apikeys.GET("", llmHandler.ListAPIKeys)
			apikeys.DELETE("/:id", llmHandler.DeleteAPIKey)
		}

		knowledge := v1.Group("/knowledge", requireAuth)
		{
			knowledge.POST("", knowledgeHandler.Create)
			knowledge.GET("", knowledgeHandler.List)
			knowledge.GET("/:id", knowledgeHandler.Get)
			knowledge.PUT("/:id", knowledgeHandler.Update)
			knowledge.DELETE("/:id", knowledgeHandler.Delete)
		}

		documents := v1.Group("/documents", requireAuth)
		{
			documents.POST("/upload", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.DELETE("/:id", documentHandler.Delete)
			documents.POST("/:id/retry", documentHandler.Retry)
			documents.GET("/:id/preview", documentHandler.Preview)
			documents.GET("/:id/thumb", documentHandler.Thumb)
		}

		robots := v1.Group("/robots", requireAuth)
		{
			robots.POST("", robotHandler.Create)
			robots.GET("", robotHandler.List)
			robots.GET("/:id", robotHandler.Get)
			robots.PUT("/:id", robotHandler.Update)
			robots.DELETE("/:id", robotHandler.Delete)
			robots.POST("/:id/retrieval-test", rateLimitMiddleware(recallLimiter), robotHandler.RetrievalTest)
		}

		chat := v1.Group("/chat", requireAuth)
		{
			chat.POST("/ask", chatHandler.Ask)
			chat.POST("/ask/stream", chatHandler.AskStream)
			chat.POST("/sessions", chatHandler.CreateSession)
			chat.GET("/sessions", chatHandler.ListSessions)
			chat.GET("/sessions/:sid", chatHandler.GetSession)
			chat.PUT("/sessions/:sid", chatHandler.UpdateSession)
			chat.DELETE("/sessions/:sid", chatHandler.DeleteSession)
			chat.POST("/feedback", chatHandler.Feedback)
			chat.GET("/history/:sid", chatHandler.History)
		}

		recall := v1.Group("/recall", requireAuth)
		{
			recall.POST("/test", recallHandler.Start)
			recall.GET("/status/:taskId", recallHandler.Status)
			recall.DELETE("/status/:taskId", recallHandler.Cancel)
		}
	}

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     router,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout 保持 0: SSE 响应时长不可预估
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{server: server, logger: logger}
}

// Start 启动监听, 不阻塞
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting http server", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop 优雅关停
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	return s.server.Shutdown(ctx)
}
