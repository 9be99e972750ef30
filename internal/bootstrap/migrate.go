package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/academy-hub/tuition-ledger/config"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/postgres"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// MigrateAction - действие над схемой, запускаемое из командной строки.
type MigrateAction string

const (
	MigrateUp     MigrateAction = "up"
	MigrateDown   MigrateAction = "down"
	MigrateStatus MigrateAction = "status"
)

// ParseMigrateAction разбирает значение флага -migrate.
func ParseMigrateAction(s string) (MigrateAction, error) {
	switch a := MigrateAction(strings.ToLower(strings.TrimSpace(s))); a {
	case MigrateUp, MigrateDown, MigrateStatus:
		return a, nil
	default:
		return "", fmt.Errorf("unknown migrate action %q (want up, down or status)", s)
	}
}

// Migrate выполняет действие над схемой postgres и закрывает соединение.
func Migrate(ctx context.Context, cfg *config.Config, log *logger.Logger, action MigrateAction) error {
	if cfg.Ledger.Storage != config.StoragePostgres {
		return fmt.Errorf("migrations need LEDGER_STORAGE=%s, got %s", config.StoragePostgres, cfg.Ledger.Storage)
	}

	conn, err := postgres.NewConnection(ctx, cfg.Database.URL, postgres.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	m := postgres.NewMigrator(conn)
	switch action {
	case MigrateUp:
		if err := m.Migrate(ctx); err != nil {
			return err
		}
		log.Info("database schema is up to date")

	case MigrateDown:
		mig, err := m.Rollback(ctx)
		if err != nil {
			return err
		}
		if mig == nil {
			log.Info("no migrations to roll back")
			return nil
		}
		log.Info("migration rolled back", logger.Int("version", mig.Version), logger.String("name", mig.Name))

	case MigrateStatus:
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, mig := range status {
			fields := []logger.Field{
				logger.Int("version", mig.Version),
				logger.String("name", mig.Name),
				logger.Bool("applied", mig.IsApplied),
			}
			if mig.IsApplied {
				fields = append(fields, logger.Time("applied_at", mig.AppliedAt))
			}
			log.Info("migration", fields...)
		}
	}
	return nil
}
