package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/tollgate/internal"
	"github.com/DukeRupert/tollgate/internal/archive"
	"github.com/DukeRupert/tollgate/internal/store"
	"github.com/DukeRupert/tollgate/internal/store/memstore"
	"github.com/DukeRupert/tollgate/internal/store/redisstore"
	"github.com/DukeRupert/tollgate/internal/store/sqlstore"
)

// openStore connects the usage store selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case internal.StoreDriverPostgres, internal.StoreDriverSQLite:
		dialect, dsn := sqlstore.Postgres, cfg.DatabaseUrl
		if cfg.StoreDriver == internal.StoreDriverSQLite {
			dialect, dsn = sqlstore.SQLite, cfg.SQLitePath
		}

		st, err := sqlstore.Open(ctx, dialect, dsn)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := internal.RunMigrations(st.DB(), cfg.StoreDriver); err != nil {
			st.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		return st, nil

	case internal.StoreDriverRedis:
		st, err := redisstore.Open(ctx, cfg.RedisURL, redisstore.Options{KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return st, nil

	case internal.StoreDriverMemory:
		logger.Warn("Using in-memory usage store; counters are lost on restart")
		return memstore.New(), nil
	}

	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// openArchive creates the storage retired usage history is written to.
func openArchive(cfg *internal.Config, logger *slog.Logger) (archive.Storage, error) {
	if cfg.ArchiveProvider == archive.ProviderR2 {
		storage, err := archive.NewR2Storage(archive.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("archive initialization failed: %w", err)
		}
		return storage, nil
	}

	storage, err := archive.NewLocalStorage(archive.LocalConfig{BasePath: cfg.LocalArchivePath}, logger)
	if err != nil {
		return nil, fmt.Errorf("archive initialization failed: %w", err)
	}
	return storage, nil
}
