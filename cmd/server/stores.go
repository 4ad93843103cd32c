package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/recordlog/internal/config"
	pgInfra "github.com/fastygo/recordlog/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/recordlog/internal/infrastructure/redis"
	"github.com/fastygo/recordlog/internal/services/lifecycle"
	"github.com/fastygo/recordlog/repository"
	boltRepo "github.com/fastygo/recordlog/repository/bolt"
	"github.com/fastygo/recordlog/repository/memory"
	"github.com/fastygo/recordlog/repository/postgres"
	redisRepo "github.com/fastygo/recordlog/repository/redis"
)

func openEventLog(ctx context.Context, cfg *config.Config, manager *lifecycle.Manager, logger *zap.Logger) (repository.EventLog, error) {
	switch cfg.Store.Driver {
	case config.StoreBolt:
		store, err := boltRepo.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		manager.Register("bolt", func(context.Context) error {
			return store.Close()
		})
		logger.Info("bolt event log opened", zap.String("path", cfg.Store.BoltPath))
		return store, nil

	case config.StoreMemory:
		logger.Warn("in-memory event log, history is lost on restart")
		return memory.NewEventLog(), nil

	default:
		if err := pgInfra.RunMigrations(cfg, logger); err != nil {
			return nil, err
		}
		pool, err := pgInfra.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		manager.Register("postgres", func(context.Context) error {
			pgInfra.Close(pool, logger)
			return nil
		})
		return postgres.NewEventLog(pool), nil
	}
}

func openSnapshotCache(ctx context.Context, cfg *config.Config, manager *lifecycle.Manager) (repository.SnapshotCache, error) {
	switch cfg.Cache.Driver {
	case config.CacheRedis:
		client, err := redisInfra.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		manager.Register("redis", func(context.Context) error {
			return client.Close()
		})
		return redisRepo.NewSnapshotCache(client, cfg.Cache.TTL), nil

	case config.CacheNone:
		return repository.NopSnapshotCache(), nil

	default:
		return memory.NewSnapshotCache(cfg.Cache.Size, cfg.Cache.TTL), nil
	}
}
