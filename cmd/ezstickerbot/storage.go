package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prilive-com/ezsticker/internal/config"
	"github.com/prilive-com/ezsticker/internal/metrics"
	"github.com/prilive-com/ezsticker/internal/persist"
	"github.com/prilive-com/ezsticker/internal/userstore"
)

// storage is the selected user store plus its lifecycle.
type storage struct {
	store userstore.Store
	count func() int
	start func(ctx context.Context, m metrics.Recorder)
	close func() error
}

func openStorage(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*storage, error) {
	switch cfg.Driver {
	case "postgres":
		return openPostgres(ctx, cfg, logger)
	default:
		return openFile(cfg, logger)
	}
}

func openFile(cfg config.Storage, logger *slog.Logger) (*storage, error) {
	compressor, err := persist.NewZstdCompressor()
	if err != nil {
		return nil, fmt.Errorf("ezsticker: create compressor: %w", err)
	}
	fm := persist.NewFileManager(cfg.FilePath, compressor, logger)

	store := userstore.NewMemoryStore(logger)
	if err := store.Load(fm); err != nil {
		fm.Close()
		return nil, fmt.Errorf("ezsticker: load %s: %w", cfg.FilePath, err)
	}
	logger.Info("user store loaded", "path", cfg.FilePath, "users", store.Len())

	scheduler := persist.NewScheduler(cfg.SaveInterval, func() error { return store.Save(fm) }, logger)

	return &storage{
		store: store,
		count: store.Len,
		start: func(ctx context.Context, m metrics.Recorder) {
			scheduler.OnPersist(m.ObservePersistenceDuration)
			scheduler.Start(ctx)
		},
		close: func() error {
			defer fm.Close()
			return scheduler.Stop()
		},
	}, nil
}

func openPostgres(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*storage, error) {
	db, err := userstore.Connect(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	store := userstore.NewPostgresStore(db, logger)

	return &storage{
		store: store,
		count: func() int {
			users, err := store.Users(context.Background())
			if err != nil {
				logger.Warn("count users", "error", err)
				return 0
			}
			return len(users)
		},
		start: func(context.Context, metrics.Recorder) {},
		close: func() error {
			if err := store.Close(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}, nil
}
