package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/config"
	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "test.db"),
	}
	db, err := NewDBConnection(cfg)
	if err != nil {
		t.Fatalf("NewDBConnection: %v", err)
	}
	return db
}

func TestUserRepositorySaveAndFind(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormUserRepository(db)
	ctx := context.Background()

	user, err := entity.NewUser("张三", "zhangsan@example.com", "hash", entity.RoleUser)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if err := repo.Save(ctx, user); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if user.ID() == 0 {
		t.Fatal("id not backfilled after save")
	}

	found, err := repo.FindByUsername(ctx, "张三")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if found.Email() != "zhangsan@example.com" || found.Role() != entity.RoleUser {
		t.Errorf("found = %s %s", found.Email(), found.Role())
	}

	// 改密后重查能看到改密时间
	found.ChangePassword("newhash", time.Now())
	if err := repo.Save(ctx, found); err != nil {
		t.Fatalf("Save after ChangePassword: %v", err)
	}
	again, err := repo.FindByID(ctx, found.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if again.PasswordChangedAt() == nil {
		t.Error("password_changed_at not persisted")
	}
}

func TestUserRepositoryNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormUserRepository(db)

	_, err := repo.FindByID(context.Background(), 404)
	if !domainErrors.IsNotFound(err) {
		t.Fatalf("err = %v, want not found AppError", err)
	}
}

func TestLLMRepositoryFindByModelType(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormLLMRepository(db)
	ctx := context.Background()

	chat, _ := entity.NewLLM("gpt", valueobject.ModelTypeChat, valueobject.ProviderOpenAI, "gpt-4o", "", "")
	embed, _ := entity.NewLLM("bge", valueobject.ModelTypeEmbedding, valueobject.ProviderSiliconFlow, "bge-m3", "", "")
	disabled, _ := entity.NewLLM("old", valueobject.ModelTypeChat, valueobject.ProviderOpenAI, "gpt-3.5", "", "")
	disabled.Disable()
	for _, l := range []*entity.LLM{chat, embed, disabled} {
		if err := repo.Save(ctx, l); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	chats, err := repo.FindByModelType(ctx, valueobject.ModelTypeChat)
	if err != nil {
		t.Fatalf("FindByModelType: %v", err)
	}
	if len(chats) != 1 || chats[0].Name() != "gpt" {
		t.Errorf("chats = %d, disabled rows must be excluded", len(chats))
	}
}

func TestAPIKeyRepositoryFindActive(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormAPIKeyRepository(db)
	ctx := context.Background()

	dead, _ := entity.NewAPIKey(1, "旧钥匙", "cipher-a")
	dead.Disable()
	live, _ := entity.NewAPIKey(1, "新钥匙", "cipher-b")
	other, _ := entity.NewAPIKey(2, "别家", "cipher-c")
	for _, k := range []*entity.APIKey{dead, live, other} {
		if err := repo.Save(ctx, k); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := repo.FindActiveByLLMID(ctx, 1)
	if err != nil {
		t.Fatalf("FindActiveByLLMID: %v", err)
	}
	if got.Alias() != "新钥匙" {
		t.Errorf("alias = %q, disabled key must be skipped", got.Alias())
	}

	if _, err := repo.FindActiveByLLMID(ctx, 99); err == nil {
		t.Error("expected not found for llm without keys")
	}
}

func TestDocumentRepositorySumChunks(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormDocumentRepository(db)
	ctx := context.Background()

	mk := func(name, status string, chunks int) {
		doc, _ := entity.NewDocument(5, name, "/tmp/"+name, "text/plain", 100)
		doc.SetChunkCount(chunks)
		if err := repo.Save(ctx, doc); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if status != entity.DocStatusUploading {
			if err := repo.UpdateStatus(ctx, doc.ID(), status, ""); err != nil {
				t.Fatalf("UpdateStatus: %v", err)
			}
		}
	}
	mk("a.md", entity.DocStatusCompleted, 10)
	mk("b.md", entity.DocStatusCompleted, 7)
	mk("c.md", entity.DocStatusFailed, 3)

	total, err := repo.SumChunksByKnowledgeID(ctx, 5)
	if err != nil {
		t.Fatalf("SumChunksByKnowledgeID: %v", err)
	}
	if total != 17 {
		t.Errorf("total = %d, want 17 (failed docs excluded)", total)
	}

	failed, err := repo.CountByKnowledgeID(ctx, 5, entity.DocStatusFailed)
	if err != nil {
		t.Fatalf("CountByKnowledgeID: %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d", failed)
	}
}

func TestRobotRepositoryRebuildsKnowledgeLinks(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormRobotRepository(db)
	ctx := context.Background()

	robot, _ := entity.NewRobot(1, "问答机", "", 10, []uint{1, 2})
	if err := repo.Save(ctx, robot); err != nil {
		t.Fatalf("Save: %v", err)
	}

	robot.BindKnowledge([]uint{2, 3})
	if err := repo.Save(ctx, robot); err != nil {
		t.Fatalf("Save rebind: %v", err)
	}

	found, err := repo.FindByID(ctx, robot.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	ids := found.KnowledgeIDs()
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Errorf("knowledge ids = %v, want [2 3]", ids)
	}

	n, err := repo.CountByKnowledgeID(ctx, 1)
	if err != nil {
		t.Fatalf("CountByKnowledgeID: %v", err)
	}
	if n != 0 {
		t.Errorf("stale link survived rebind: count = %d", n)
	}
}

func TestChatHistorySequenceAssignment(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormChatHistoryRepository(db)
	ctx := context.Background()

	for i, content := range []string{"你好", "你好, 有什么可以帮你", "介绍一下向量检索"} {
		role := entity.MsgRoleUser
		if i == 1 {
			role = entity.MsgRoleAssistant
		}
		msg, err := entity.NewChatMessage(string(rune('a'+i)), "sess-1", role, content)
		if err != nil {
			t.Fatalf("NewChatMessage: %v", err)
		}
		if err := repo.Save(ctx, msg); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if msg.Sequence() != i+1 {
			t.Errorf("sequence = %d, want %d", msg.Sequence(), i+1)
		}
	}

	recent, err := repo.FindRecent(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("FindRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].Sequence() != 2 || recent[1].Sequence() != 3 {
		t.Errorf("recent sequences wrong: %d messages", len(recent))
	}

	if err := repo.UpdateFeedback(ctx, "b", entity.FeedbackUp); err != nil {
		t.Fatalf("UpdateFeedback: %v", err)
	}
	liked, err := repo.FindByID(ctx, "b")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if liked.Feedback() != entity.FeedbackUp {
		t.Errorf("feedback = %d", liked.Feedback())
	}
}

func TestChatHistoryPersistsContexts(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormChatHistoryRepository(db)
	ctx := context.Background()

	msg, _ := entity.NewChatMessage("m1", "sess-9", entity.MsgRoleAssistant, "回答")
	msg.SetRetrievedContexts([]valueobject.RetrievedChunk{
		{ChunkID: "1_0", DocumentID: 1, Content: "命中内容", Score: 0.8, Source: "hybrid"},
	})
	if err := repo.Save(ctx, msg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	found, err := repo.FindByID(ctx, "m1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	contexts := found.RetrievedContexts()
	if len(contexts) != 1 || contexts[0].ChunkID != "1_0" || contexts[0].Score != 0.8 {
		t.Errorf("contexts = %+v", contexts)
	}
}

func TestSessionRepositoryOrderingAndSoftDelete(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormSessionRepository(db)
	ctx := context.Background()

	now := time.Now()
	mk := func(id string, pinned bool, lastMsg time.Time, deleted bool) {
		s, _ := entity.NewSession(id, 1, 1, "会话 "+id)
		if pinned {
			s.Pin()
		}
		s.RecordMessage(lastMsg)
		if deleted {
			s.MarkDeleted()
		}
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	mk("old", false, now.Add(-2*time.Hour), false)
	mk("fresh", false, now, false)
	mk("pinned", true, now.Add(-1*time.Hour), false)
	mk("gone", false, now, true)

	list, err := repo.FindByUserID(ctx, 1, "", 10, 0)
	if err != nil {
		t.Fatalf("FindByUserID: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d sessions, deleted must be excluded", len(list))
	}
	if list[0].ID() != "pinned" {
		t.Errorf("first = %s, pinned session must sort first", list[0].ID())
	}
	if list[1].ID() != "fresh" || list[2].ID() != "old" {
		t.Errorf("order = %s, %s", list[1].ID(), list[2].ID())
	}

	count, err := repo.CountByUserID(ctx, 1, "")
	if err != nil {
		t.Fatalf("CountByUserID: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d", count)
	}
}

func TestSessionFindInactiveSince(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormSessionRepository(db)
	ctx := context.Background()

	stale, _ := entity.NewSession("stale", 1, 1, "")
	stale.RecordMessage(time.Now().Add(-10 * 24 * time.Hour))
	fresh, _ := entity.NewSession("fresh", 1, 1, "")
	fresh.RecordMessage(time.Now())
	for _, s := range []*entity.Session{stale, fresh} {
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	cutoff := time.Now().Add(-7 * 24 * time.Hour).Unix()
	list, err := repo.FindInactiveSince(ctx, cutoff, 100)
	if err != nil {
		t.Fatalf("FindInactiveSince: %v", err)
	}
	if len(list) != 1 || list[0].ID() != "stale" {
		t.Errorf("got %d inactive sessions", len(list))
	}
}

func TestBootstrapSeedsAdminAndLocalEmbedding(t *testing.T) {
	db := newTestDB(t)
	users := NewGormUserRepository(db)
	llms := NewGormLLMRepository(db)
	ctx := context.Background()

	authCfg := &config.AuthConfig{BootstrapUser: "admin", BootstrapPass: "admin12345"}
	embCfg := &config.EmbeddingConfig{LocalURL: "http://localhost:11434", LocalModel: "nomic-embed-text"}
	if err := Bootstrap(ctx, users, llms, authCfg, embCfg, zap.NewNop()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	admin, err := users.FindByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("admin not seeded: %v", err)
	}
	if !admin.IsAdmin() {
		t.Error("seeded user must be admin")
	}

	embedders, err := llms.FindByModelType(ctx, valueobject.ModelTypeEmbedding)
	if err != nil || len(embedders) != 1 {
		t.Fatalf("embedders = %d, err = %v", len(embedders), err)
	}

	// 幂等: 再跑一遍不产生重复数据
	if err := Bootstrap(ctx, users, llms, authCfg, embCfg, zap.NewNop()); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	count, _ := users.Count(ctx)
	if count != 1 {
		t.Errorf("user count = %d after rerun", count)
	}
}
