package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/db"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

// autorunLockKey serialises dev auto-migration across the api and worker
// processes that all start against the same database.
const autorunLockKey int64 = 0x62617a6d6967

// MaybeRunDev applies the embedded migrations at boot when running in dev
// with the auto-migrate flag on. It is a no-op everywhere else.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if err := ValidateEmbedded(); err != nil {
		return fmt.Errorf("embedded migrations invalid: %w", err)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "source": "embedded"})
	return withAdvisoryLock(ctx, sqlDB, func() error {
		logg.Info(ctx, "migrate.autorun.start")
		if err := Run(ctx, sqlDB, "up"); err != nil {
			return err
		}
		logg.Info(ctx, "migrate.autorun.done")
		return nil
	})
}

func withAdvisoryLock(ctx context.Context, sqlDB *sql.DB, fn func() error) error {
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", autorunLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// released on a fresh context so a cancelled boot still unlocks
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", autorunLockKey)
	}()
	return fn()
}
