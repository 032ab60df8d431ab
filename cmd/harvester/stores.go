package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"token-harvester/internal/config"
	"token-harvester/internal/storage"
	chstore "token-harvester/internal/storage/clickhouse"
	"token-harvester/internal/storage/memory"
	"token-harvester/internal/storage/migrations"
	pgstore "token-harvester/internal/storage/postgres"
)

type allStores struct {
	snapshots storage.SnapshotStore
	rows      storage.TrainingRowStore
	watchList storage.WatchListStore
	baselines storage.BaselineStore
	reports   storage.ReportStore
}

func memoryStores() *allStores {
	return &allStores{
		snapshots: memory.NewSnapshotStore(),
		rows:      memory.NewTrainingRowStore(),
		watchList: memory.NewWatchListStore(),
		baselines: memory.NewBaselineStore(),
		reports:   memory.NewReportStore(),
	}
}

// createStores creates all required stores.
// PostgreSQL holds operational state, ClickHouse the training rows.
func createStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*allStores, func(), error) {
	if cfg.UseMemory {
		logger.Info("using in-memory storage")
		return memoryStores(), func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// ClickHouse
	var chConn *chstore.Conn
	if cfg.RunMigrations {
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied", zap.Strings("files", applied))

		var chApplied []string
		chConn, chApplied, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		logger.Info("clickhouse migrations applied", zap.Strings("files", chApplied))
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
	}

	stores := &allStores{
		snapshots: pgstore.NewSnapshotStore(pool),
		watchList: pgstore.NewWatchListStore(pool),
		baselines: pgstore.NewBaselineStore(pool),
		reports:   pgstore.NewReportStore(pool),

		rows: chstore.NewTrainingRowStore(chConn),
	}

	cleanup := func() {
		if err := chConn.Close(); err != nil {
			logger.Warn("close clickhouse", zap.Error(err))
		}
		pool.Close()
	}

	return stores, cleanup, nil
}
