package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/storage/memory"
	"github.com/vladislavdragonenkov/mall/internal/storage/postgres"
	"github.com/vladislavdragonenkov/mall/internal/storage/redisstore"
	"github.com/vladislavdragonenkov/mall/internal/storage/sqlite"
)

const redisKeyPrefix = "mall:idempotency:"

// storageBackend - то, что приложению нужно от выбранного хранилища.
type storageBackend interface {
	domain.Transactor
	domain.ProductRepository
	domain.OrderReader
	CreateUser(ctx context.Context, email string) (int64, error)
	Outbox() domain.OutboxRepository
	Ping(ctx context.Context) error
	Close() error
}

// runtimeDependencies - инфраструктура, поднятая под конкретную конфигурацию.
type runtimeDependencies struct {
	backend         storageBackend
	idempotencyRepo domain.IdempotencyRepository
	// idempotencyOwnsCleanup сообщает, что просроченные ключи надо удалять фоновым воркером.
	// Redis удаляет их сам по TTL.
	idempotencyOwnsCleanup bool
	storageChecker         func(ctx context.Context) error
	redisChecker           func(ctx context.Context) error
	closeFn                func()
}

// initRuntimeDependencies открывает хранилище, при необходимости Redis и заполняет демо-данные.
// closeFn освобождает всё, что было открыто; её безопасно вызывать один раз после остановки.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	backend, idemRepo, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return runtimeDependencies{}, err
	}

	deps := runtimeDependencies{
		backend:                backend,
		idempotencyRepo:        idemRepo,
		idempotencyOwnsCleanup: true,
		storageChecker:         backend.Ping,
	}
	closers := []func(){func() {
		if err := backend.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			runClosers(closers)
			return runtimeDependencies{}, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		logger.WithField("addr", cfg.RedisAddr).Info("idempotency keys stored in redis")

		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client, redisKeyPrefix)
		deps.idempotencyOwnsCleanup = false
		deps.redisChecker = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis client")
			}
		})
	}

	if cfg.SeedDemoData {
		if err := seedDemoData(ctx, backend, logger); err != nil {
			runClosers(closers)
			return runtimeDependencies{}, err
		}
	}

	deps.closeFn = func() { runClosers(closers) }
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (storageBackend, domain.IdempotencyRepository, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return memory.NewStore(), memory.NewIdempotencyRepository(), nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, errors.New("postgres storage requires dsn")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, nil, fmt.Errorf("migrate postgres schema: %w", err)
			}
		}
		logger.WithField("target", store.Target()).Info("using postgres storage")
		return store, store.Idempotency(), nil

	case StorageDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("init sqlite storage: %w", err)
		}
		if cfg.SQLiteAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, nil, fmt.Errorf("migrate sqlite schema: %w", err)
			}
		}
		logger.WithField("path", cfg.SQLitePath).Info("using sqlite storage")
		return store, store.Idempotency(), nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// closers выполняются в обратном порядке открытия.
func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
