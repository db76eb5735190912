package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/recipebox/internal/config"
	"github.com/hitoshi/recipebox/internal/database"
	"github.com/hitoshi/recipebox/internal/handler"
	"github.com/hitoshi/recipebox/internal/repository"
	"github.com/hitoshi/recipebox/internal/repository/memory"
)

// stores はSTORE_DRIVERに応じて選んだリポジトリの組。
type stores struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	saved      repository.SavedRecipeRepository
	daily      repository.DailyPicksRepository

	// health はnilの場合、/healthは常に200を返す
	health handler.HealthChecker
	close  func() error
}

// openStores は設定に従ってストアを開く。
// postgresの場合は接続を確認してから返す。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.UsesMemoryStore() {
		slog.Warn("using in-memory store; data is lost on restart")
		return newMemoryStores(), nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	return &stores{
		users:      repository.NewPostgresUserRepo(db),
		identities: repository.NewPostgresIdentityRepo(db),
		sessions:   repository.NewPostgresSessionRepo(db),
		saved:      repository.NewPostgresSavedRecipeRepo(db),
		daily:      repository.NewPostgresDailyPicksRepo(db),
		health:     db,
		close:      db.Close,
	}, nil
}

func newMemoryStores() *stores {
	users := memory.NewUserRepo()
	return &stores{
		users:      users,
		identities: users.Identities(),
		sessions:   memory.NewSessionRepo(),
		saved:      memory.NewSavedRecipeRepo(),
		daily:      memory.NewDailyPicksRepo(),
		close:      func() error { return nil },
	}
}
