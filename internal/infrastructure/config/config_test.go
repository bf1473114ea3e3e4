package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validTestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Type: "sqlite", DSN: ":memory:"},
		Kafka:    KafkaConfig{Mode: "inmemory"},
		Auth: AuthConfig{
			JWTSecret:     strings.Repeat("s", 32),
			EncryptionKey: strings.Repeat("k", 32),
		},
		Ingest: IngestConfig{ChunkSize: 500, ChunkOverlap: 50},
		Chat:   ChatConfig{MaxTurns: 10},
	}
}

func TestValidate(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateShortJWTSecret(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.JWTSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short jwt_secret")
	}
}

func TestValidateEncryptionKeyLength(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.EncryptionKey = strings.Repeat("k", 16)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for 16-byte encryption_key")
	}
	cfg.Auth.EncryptionKey = strings.Repeat("k", 33)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for 33-byte encryption_key")
	}
}

func TestValidateChunkOverlap(t *testing.T) {
	cfg := validTestConfig()
	cfg.Ingest.ChunkOverlap = 500
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when overlap >= chunk size")
	}
}

func TestValidateDatabaseType(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Type = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported database type")
	}
}

func TestLoadDefaultsAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	oldWD, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(oldWD)

	t.Setenv("RAGFORGE_AUTH_JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("RAGFORGE_AUTH_ENCRYPTION_KEY", strings.Repeat("k", 32))
	t.Setenv("RAGFORGE_SERVER_PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("env override not applied, port = %d", cfg.Server.Port)
	}
	if cfg.Ingest.ChunkSize != 500 || cfg.Ingest.ChunkOverlap != 50 {
		t.Errorf("chunk defaults wrong: %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Chat.ContextTTL != 7200*time.Second {
		t.Errorf("context_ttl default wrong: %v", cfg.Chat.ContextTTL)
	}
	if cfg.Chat.MaxTurns != 10 {
		t.Errorf("max_turns default wrong: %d", cfg.Chat.MaxTurns)
	}
	if cfg.Elasticsearch.Index != "rag_document_chunks" {
		t.Errorf("es index default wrong: %q", cfg.Elasticsearch.Index)
	}
	if cfg.Storage.MaxFileSize != 52428800 {
		t.Errorf("max_file_size default wrong: %d", cfg.Storage.MaxFileSize)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 8123
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  encryption_key: "0123456789abcdef0123456789abcdef"
chat:
  max_turns: 5
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	oldWD, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(oldWD)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("file value not applied, port = %d", cfg.Server.Port)
	}
	if cfg.Chat.MaxTurns != 5 {
		t.Errorf("file value not applied, max_turns = %d", cfg.Chat.MaxTurns)
	}
	// 未覆盖的键仍取默认值
	if cfg.Embedding.BatchSize != 32 {
		t.Errorf("batch_size default wrong: %d", cfg.Embedding.BatchSize)
	}
}
