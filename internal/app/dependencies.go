package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderengine/internal/health"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/redis"
)

// runtimeDependencies содержит хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	txm             domain.TxManager
	orders          domain.OrderReader
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker     healthcheck.Checker
	idempotencyChecker healthcheck.Checker

	closeFn func() error
}

// close освобождает соединения; безопасен для nil.
func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// initRuntimeDependencies поднимает основное хранилище и хранилище ключей идемпотентности.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := initIdempotency(ctx, cfg, deps, logger); err != nil {
		_ = deps.close()
		return nil, err
	}
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.WithField("storage", driver).Info("storage initialized")
		return &runtimeDependencies{
			txm:             store,
			orders:          store,
			outboxRepo:      store.OutboxRepository(),
			timelineRepo:    store.TimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.PingChecker("storage", store),
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("%s is required for postgres storage", EnvPostgresDSN)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres schema: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		logger.WithField("storage", driver).Info("storage initialized")
		return &runtimeDependencies{
			txm:             store,
			orders:          store,
			outboxRepo:      store.OutboxRepository(),
			timelineRepo:    store.TimelineRepository(),
			idempotencyRepo: store.IdempotencyRepository(),
			storageChecker:  healthcheck.PingChecker("storage", store),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initIdempotency при драйвере redis заменяет репозиторий ключей, выбранный хранилищем.
func initIdempotency(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.IdempotencyDriver))
	switch driver {
	case "", IdempotencyDriverStorage:
		return nil

	case IdempotencyDriverRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return fmt.Errorf("%s is required for redis idempotency", EnvRedisAddr)
		}
		client := redis.NewClient(cfg.RedisAddr)
		repo := redis.NewIdempotencyRepository(client)
		if err := repo.Ping(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("ping redis: %w", err)
		}

		storageClose := deps.closeFn
		deps.idempotencyRepo = repo
		deps.idempotencyChecker = healthcheck.PingChecker("idempotency", repo)
		deps.closeFn = func() error {
			var err error
			if storageClose != nil {
				err = storageClose()
			}
			return errors.Join(err, client.Close())
		}
		logger.WithField("redis_addr", cfg.RedisAddr).Info("redis idempotency store initialized")
		return nil

	default:
		return fmt.Errorf("unsupported idempotency driver %q", cfg.IdempotencyDriver)
	}
}
