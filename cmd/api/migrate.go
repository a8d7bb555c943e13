package main

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"strings"

	"composer/api/db/migrations"
	"composer/api/internal/store"
)

// migrationsFS reads migrations from MigrationsDir when it is set and from
// the embedded copy otherwise.
func migrationsFS() fs.FS {
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func openDatabase(ctx context.Context) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
}

func runMigrate(ctx context.Context, rollback int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if rollback > 0 {
		names, err := store.RollbackMigrations(ctx, db, migrationsFS(), rollback)
		if err != nil {
			return err
		}
		log.Info().Strs("migrations", names).Msg("migrations rolled back")
		return nil
	}

	names, err := store.ApplyMigrations(ctx, db, migrationsFS())
	if err != nil {
		return err
	}
	log.Info().Strs("migrations", names).Msg("migrations applied")
	return nil
}
