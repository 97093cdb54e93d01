package storage

import (
	"context"
	"errors"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/logger"
)

// Migrate applies pending schema migrations. goose needs a database/sql
// handle, so the pool is bridged through stdlib.OpenDBFromPool; this shares
// the underlying connections rather than opening a second pool.
func Migrate(ctx context.Context, s *PostgresStore, cfg config.StorageConfig) error {
	if cfg.MigrationsPath == "" {
		return errors.Join(ErrFailedToApplyMigrations, errors.New("no migrations path configured"))
	}
	if _, err := os.Stat(cfg.MigrationsPath); err != nil {
		return errors.Join(ErrMigrationsDirNotFound, err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("storage: failed to close migration db handle")
		}
	}()

	goose.SetLogger(gooseLogAdapter{})
	goose.SetTableName(cfg.MigrationsTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if err := goose.UpContext(ctx, db, cfg.MigrationsPath); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

type gooseLogAdapter struct{}

func (gooseLogAdapter) Fatalf(format string, v ...any) {
	logger.Error().Msgf(format, v...)
}

func (gooseLogAdapter) Printf(format string, v ...any) {
	logger.Info().Msgf(format, v...)
}
