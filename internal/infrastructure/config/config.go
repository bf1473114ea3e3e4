package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Milvus        MilvusConfig        `mapstructure:"milvus"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Auth          AuthConfig          `mapstructure:"auth"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Rerank        RerankConfig        `mapstructure:"rerank"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	CORS          CORSConfig          `mapstructure:"cors"`
	Log           LogConfig           `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 0 = 不限, SSE 需要
}

// Addr 返回监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"` // postgres, sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ElasticsearchConfig 全文索引配置
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// MilvusConfig 向量库配置
type MilvusConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// KafkaConfig 消息总线配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	// inmemory 模式用于单进程部署和测试, kafka 模式用于生产
	Mode           string `mapstructure:"mode"` // kafka, inmemory
	MaxMessageSize int    `mapstructure:"max_message_size"`
}

// StorageConfig 上传文件存储配置
type StorageConfig struct {
	UploadDir   string `mapstructure:"upload_dir"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

// AuthConfig 认证与加密配置
type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	JWTExpire        time.Duration `mapstructure:"jwt_expire"`
	EncryptionKey    string        `mapstructure:"encryption_key"` // 32 字节, AES-256-GCM
	BootstrapUser    string        `mapstructure:"bootstrap_user"`
	BootstrapPass    string        `mapstructure:"bootstrap_pass"`
	DisableBootstrap bool          `mapstructure:"disable_bootstrap"`
}

// LLMConfig 模型提供商配置
type LLMConfig struct {
	// 提供商预设文件(可选), 文件缺失按空预设处理
	PresetsPath string `mapstructure:"presets_path"`
	// 对话调用的全局备用模型配置ID, 0 表示不降级
	FallbackLLMID uint `mapstructure:"fallback_llm_id"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// 本地兜底服务 (如 Ollama), 未配置 LLM 凭据时使用
	LocalURL   string `mapstructure:"local_url"`
	LocalModel string `mapstructure:"local_model"`
}

// RerankConfig 重排配置
type RerankConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	LocalURL   string `mapstructure:"local_url"`
	LocalModel string `mapstructure:"local_model"`
}

// ChatConfig 会话上下文配置
type ChatConfig struct {
	ContextTTL       time.Duration `mapstructure:"context_ttl"`
	ActiveTTL        time.Duration `mapstructure:"active_ttl"`
	MaxTurns         int           `mapstructure:"max_turns"`
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
	ArchiveDays      int           `mapstructure:"archive_days"`
}

// IngestConfig 摄取流水线配置
type IngestConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	RecallRatePerMinute int `mapstructure:"recall_rate_per_minute"` // 每用户召回测试限速
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load 加载配置
// 优先级 (低 → 高): 默认值 → ./config/config.yaml 或 ./config.yaml → 环境变量
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v.SetConfigFile(localPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", localPath, err)
			}
			break // 只取第一个找到的本地配置
		}
	}

	// 环境变量覆盖: RAGFORGE_DATABASE_DSN → database.dsn
	v.SetEnvPrefix("RAGFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验不可降级的配置项
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes, got %d", len(c.Auth.JWTSecret))
	}
	if len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("auth.encryption_key must be exactly 32 bytes, got %d", len(c.Auth.EncryptionKey))
	}
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.type must be postgres or sqlite, got %q", c.Database.Type)
	}
	switch c.Kafka.Mode {
	case "kafka", "inmemory":
	default:
		return fmt.Errorf("kafka.mode must be kafka or inmemory, got %q", c.Kafka.Mode)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Chat.MaxTurns <= 0 {
		return fmt.Errorf("chat.max_turns must be positive, got %d", c.Chat.MaxTurns)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")

	// Database: 连接池上限 = 常驻 10 + 峰值溢出 20
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/ragforge.db")
	v.SetDefault("database.max_open_conns", 30)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "3600s")

	// Redis
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	// Elasticsearch
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "rag_document_chunks")

	// Milvus
	v.SetDefault("milvus.addr", "localhost:19530")
	v.SetDefault("milvus.database", "default")

	// Kafka
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.mode", "inmemory")
	v.SetDefault("kafka.max_message_size", 10*1024*1024)

	// Storage
	v.SetDefault("storage.upload_dir", "data/uploads")
	v.SetDefault("storage.max_file_size", 52428800) // 50MB

	// Auth
	v.SetDefault("auth.jwt_expire", "24h")
	v.SetDefault("auth.bootstrap_user", "admin")

	// LLM
	v.SetDefault("llm.presets_path", "config/providers.yaml")
	v.SetDefault("llm.fallback_llm_id", 0)

	// Embedding
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.local_url", "http://localhost:11434")
	v.SetDefault("embedding.local_model", "nomic-embed-text")

	// Rerank
	v.SetDefault("rerank.enabled", false)
	v.SetDefault("rerank.local_url", "http://localhost:11434")

	// Chat
	v.SetDefault("chat.context_ttl", "7200s")
	v.SetDefault("chat.active_ttl", "86400s")
	v.SetDefault("chat.max_turns", 10)
	v.SetDefault("chat.max_context_tokens", 4000)
	v.SetDefault("chat.archive_days", 7)

	// Ingest
	v.SetDefault("ingest.chunk_size", 500)
	v.SetDefault("ingest.chunk_overlap", 50)

	// Retrieval
	v.SetDefault("retrieval.recall_rate_per_minute", 30)

	// CORS
	v.SetDefault("cors.allow_origins", []string{"*"})

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
}
