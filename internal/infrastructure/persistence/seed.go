package persistence

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ragforge/ragforge/backend/internal/domain/entity"
	"github.com/ragforge/ragforge/backend/internal/domain/repository"
	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/config"
)

// Bootstrap 首次启动时播种初始数据:
// 管理员账号(空库时)和一条本地向量化模型配置(无 embedding 模型时)
func Bootstrap(
	ctx context.Context,
	users repository.UserRepository,
	llms repository.LLMRepository,
	authCfg *config.AuthConfig,
	embCfg *config.EmbeddingConfig,
	logger *zap.Logger,
) error {
	if authCfg.DisableBootstrap {
		return nil
	}

	count, err := users.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		pass := authCfg.BootstrapPass
		if pass == "" {
			logger.Warn("bootstrap admin skipped: auth.bootstrap_pass not set")
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			admin, err := entity.NewUser(authCfg.BootstrapUser, authCfg.BootstrapUser+"@localhost", string(hash), entity.RoleAdmin)
			if err != nil {
				return err
			}
			if err := users.Save(ctx, admin); err != nil {
				return err
			}
			logger.Info("bootstrap admin created", zap.String("username", authCfg.BootstrapUser))
		}
	}

	embedders, err := llms.FindByModelType(ctx, valueobject.ModelTypeEmbedding)
	if err != nil {
		return err
	}
	if len(embedders) == 0 && embCfg.LocalModel != "" {
		local, err := entity.NewLLM(
			"local-embedding",
			valueobject.ModelTypeEmbedding,
			valueobject.ProviderOllama,
			embCfg.LocalModel,
			embCfg.LocalURL,
			"",
		)
		if err != nil {
			return err
		}
		if err := llms.Save(ctx, local); err != nil {
			return err
		}
		logger.Info("bootstrap local embedding llm created",
			zap.String("model", embCfg.LocalModel), zap.String("url", embCfg.LocalURL))
	}

	return nil
}
