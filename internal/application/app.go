package application

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/service"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/auth"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/bus"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/cache"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/config"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/crypto"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/embedding"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/llm"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/monitoring"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/parser"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/persistence"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/rerank"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/search"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/storage"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/vectorstore"
	httpiface "github.com/ragforge/ragforge/backend/internal/interfaces/http"
	"github.com/ragforge/ragforge/backend/pkg/safego"
)

// 流水线阶段名, worker 进程以 --stage 选择消费哪一段
const (
	StageParser     = "parser"
	StageSplitter   = "splitter"
	StageVectorizer = "vectorizer"
	StageRecall     = "recall"
)

// App 组装全部依赖并管理生命周期
// 同一容器供 API 进程与 worker 进程使用: API 进程调用 Start,
// worker 进程只调用 RunWorker 消费指定阶段
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db      *gorm.DB
	redis   *redis.Client
	milvus  *vectorstore.Milvus
	elastic *search.Elastic
	queue   bus.Bus
	monitor *monitoring.Monitor
	server  *httpiface.Server

	userRepo repository.UserRepository
	llmRepo  repository.LLMRepository

	ingestUC  *usecase.IngestUseCase
	recallUC  *usecase.RecallUseCase
	sessionUC *usecase.SessionUseCase
}

// NewApp 按配置构建完整依赖图
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	userRepo := persistence.NewGormUserRepository(db)
	llmRepo := persistence.NewGormLLMRepository(db)
	keyRepo := persistence.NewGormAPIKeyRepository(db)
	knowledgeRepo := persistence.NewGormKnowledgeRepository(db)
	documentRepo := persistence.NewGormDocumentRepository(db)
	robotRepo := persistence.NewGormRobotRepository(db)
	sessionRepo := persistence.NewGormSessionRepository(db)
	historyRepo := persistence.NewGormChatHistoryRepository(db)

	redisCli, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	sessionCache := cache.NewSessionCache(redisCli, cfg.Chat.ContextTTL, cfg.Chat.ActiveTTL, logger)
	recallStore := cache.NewRecallStore(redisCli)

	milvus, err := vectorstore.NewMilvus(ctx, cfg.Milvus.Addr, logger)
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	elastic, err := search.NewElastic(
		cfg.Elasticsearch.Addresses,
		cfg.Elasticsearch.Username,
		cfg.Elasticsearch.Password,
		cfg.Elasticsearch.Index,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("connect elasticsearch: %w", err)
	}

	var queue bus.Bus
	if cfg.Kafka.Mode == "inmemory" {
		queue = bus.NewMemory(logger)
	} else {
		queue = bus.NewKafka(cfg.Kafka.Brokers, logger)
	}

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadDir, cfg.Storage.MaxFileSize, logger)
	if err != nil {
		return nil, fmt.Errorf("init file storage: %w", err)
	}

	cipher, err := crypto.NewCipher(cfg.Auth.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpire)

	presets, err := llm.LoadPresets(cfg.LLM.PresetsPath)
	if err != nil {
		return nil, fmt.Errorf("load llm presets: %w", err)
	}
	clients := llm.NewResolver(llmRepo, keyRepo, cipher, presets, cfg.LLM.FallbackLLMID, logger)

	localEmbedder := embedding.NewLocal(cfg.Embedding.LocalURL, cfg.Embedding.LocalModel, cfg.Embedding.BatchSize, logger)
	embedders := embedding.NewResolver(clients, localEmbedder, logger)

	// 未启用本地重排时, llm_id 为 0 的机器人退化为不重排
	var localReranker service.Reranker
	if cfg.Rerank.Enabled {
		localReranker = rerank.NewLocal(cfg.Rerank.LocalURL, cfg.Rerank.LocalModel, logger)
	}
	rerankers := rerank.NewResolver(clients, localReranker, logger)

	retriever := service.NewHybridRetriever(embedders, rerankers, milvus, elastic, logger)
	contexts := service.NewContextManager(sessionCache, historyRepo, cfg.Chat.MaxTurns, cfg.Chat.MaxContextTokens, logger)

	monitor := monitoring.NewMonitor(logger)
	dispatcher := parser.NewDispatcher(logger)

	authUC := usecase.NewAuthUseCase(userRepo, tokens, logger)
	llmUC := usecase.NewLLMUseCase(llmRepo, keyRepo, cipher, logger)
	knowledgeUC := usecase.NewKnowledgeUseCase(knowledgeRepo, documentRepo, robotRepo, embedders, milvus, elastic, fileStore, logger)
	documentUC := usecase.NewDocumentUseCase(documentRepo, knowledgeRepo, fileStore, milvus, elastic, queue, logger)
	robotUC := usecase.NewRobotUseCase(robotRepo, knowledgeRepo, llmRepo, retriever, logger)
	chatUC := usecase.NewChatUseCase(sessionRepo, historyRepo, robotRepo, knowledgeRepo, clients, retriever, contexts, monitor, logger)
	sessionUC := usecase.NewSessionUseCase(sessionRepo, historyRepo, robotRepo, contexts, logger)
	recallUC := usecase.NewRecallUseCase(recallStore, queue, robotRepo, knowledgeRepo, retriever, logger)
	ingestUC := usecase.NewIngestUseCase(
		documentRepo, knowledgeRepo, fileStore, dispatcher,
		embedders, milvus, elastic, queue,
		cfg.Embedding.BatchSize, cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap,
		monitor, logger,
	)

	server := httpiface.NewServer(
		httpiface.Config{
			Addr:         cfg.Server.Addr(),
			Mode:         cfg.Server.Mode,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			AllowOrigins: cfg.CORS.AllowOrigins,
			RecallPerMin: cfg.Retrieval.RecallRatePerMinute,
		},
		httpiface.UseCases{
			Auth:      authUC,
			LLM:       llmUC,
			Knowledge: knowledgeUC,
			Document:  documentUC,
			Robot:     robotUC,
			Chat:      chatUC,
			Session:   sessionUC,
			Recall:    recallUC,
		},
		elastic, monitor, logger,
	)

	return &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisCli,
		milvus:    milvus,
		elastic:   elastic,
		queue:     queue,
		monitor:   monitor,
		server:    server,
		userRepo:  userRepo,
		llmRepo:   llmRepo,
		ingestUC:  ingestUC,
		recallUC:  recallUC,
		sessionUC: sessionUC,
	}, nil
}

// Start 启动 API 进程: 建索引、播种、后台任务、HTTP 监听
// inmemory 总线模式下流水线消费者也在本进程内运行
func (a *App) Start(ctx context.Context) error {
	if err := a.elastic.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure elasticsearch index: %w", err)
	}
	if err := persistence.Bootstrap(ctx, a.userRepo, a.llmRepo, &a.cfg.Auth, &a.cfg.Embedding, a.logger); err != nil {
		return fmt.Errorf("bootstrap seed data: %w", err)
	}

	safego.Go(a.logger, "metrics-collector", func() {
		a.monitor.StartCollector(ctx, time.Minute)
	})
	safego.Go(a.logger, "session-archiver", func() {
		a.sessionUC.StartArchiver(ctx, time.Hour, a.cfg.Chat.ArchiveDays)
	})

	if a.cfg.Kafka.Mode == "inmemory" {
		for _, stage := range []string{StageParser, StageSplitter, StageVectorizer, StageRecall} {
			stage := stage
			safego.Go(a.logger, "pipeline-"+stage, func() {
				if err := a.RunWorker(ctx, stage); err != nil && ctx.Err() == nil {
					a.logger.Error("pipeline stage stopped", zap.String("stage", stage), zap.Error(err))
				}
			})
		}
	}

	return a.server.Start(ctx)
}

// RunWorker 阻塞消费指定阶段, ctx 取消后返回
func (a *App) RunWorker(ctx context.Context, stage string) error {
	switch stage {
	case StageParser:
		return a.queue.Subscribe(ctx, bus.TopicDocUpload, bus.GroupParser, a.ingestUC.HandleUpload)
	case StageSplitter:
		return a.queue.Subscribe(ctx, bus.TopicDocParsed, bus.GroupSplitter, a.ingestUC.HandleParsed)
	case StageVectorizer:
		return a.queue.Subscribe(ctx, bus.TopicDocChunks, bus.GroupVectorizer, a.ingestUC.HandleChunks)
	case StageRecall:
		return a.queue.Subscribe(ctx, bus.TopicRecallTest, bus.GroupRecall, a.recallUC.HandleRecallTest)
	default:
		return fmt.Errorf("unknown worker stage %q", stage)
	}
}

// Stop 逆序释放资源
func (a *App) Stop(ctx context.Context) error {
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("failed to stop http server", zap.Error(err))
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Error("failed to close message bus", zap.Error(err))
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Error("failed to close redis client", zap.Error(err))
	}
	a.milvus.Close()
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.logger.Error("failed to close database", zap.Error(err))
		}
	}
	a.logger.Info("application stopped")
	return nil
}
