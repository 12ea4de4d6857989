package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot when running in dev with
// the auto-migrate flag set. Other environments run cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if cfg.DB.IsSQLite() {
		// migrations rely on postgres enums and partial indexes
		logg.Warn(ctx, "auto-migrate skipped for sqlite")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("migrate: sql handle: %w", err)
	}
	runner, err := NewRunner(sqlDB, Migrations())
	if err != nil {
		return err
	}

	applied, err := runner.Up(ctx)
	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{"version": a.Version, "duration_ms": a.Duration.Milliseconds()}), "migration applied")
	}
	if err != nil {
		return fmt.Errorf("migrate: auto-run: %w", err)
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "auto-migrate complete")
	return nil
}
