package app

import (
	"context"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderengine/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.txm == nil || deps.orders == nil {
		t.Fatal("txm and orders should not be nil for memory storage")
	}
	if deps.outboxRepo == nil {
		t.Fatal("outboxRepo should not be nil for memory storage")
	}
	if deps.timelineRepo == nil {
		t.Fatal("timelineRepo should not be nil for memory storage")
	}
	if deps.idempotencyRepo == nil {
		t.Fatal("idempotencyRepo should not be nil for memory storage")
	}
	if deps.idempotencyChecker != nil {
		t.Fatal("storage idempotency driver should not add a separate checker")
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy memory storage, got %+v", check)
	}
	if err := deps.close(); err != nil {
		t.Fatalf("close memory deps: %v", err)
	}
}

func TestInitRuntimeDependencies_EmptyDriverDefaultsToMemory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("initRuntimeDependencies(empty) failed: %v", err)
	}
	if deps.txm == nil {
		t.Fatal("expected memory storage for empty driver")
	}
}

func TestInitRuntimeDependencies_MemorySharesOneStore(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), DefaultConfig(), log.WithField("test", "shared-store"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	ctx := context.Background()
	err = deps.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateTypeOrder,
			AggregateID:   "order-1",
			EventType:     domain.EventItemsStatusChanged,
			Payload:       []byte(`{}`),
		})
		return err
	})
	if err != nil {
		t.Fatalf("enqueue in tx: %v", err)
	}

	stats, err := deps.outboxRepo.Stats(ctx)
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected tx writes to be visible to the outbox relay, got %d pending", stats.PendingCount)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil || !strings.Contains(err.Error(), EnvPostgresDSN) {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_RedisRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver:     StorageDriverMemory,
		IdempotencyDriver: IdempotencyDriverRedis,
	}, log.WithField("test", "redis-missing-addr"))
	if err == nil || !strings.Contains(err.Error(), EnvRedisAddr) {
		t.Fatalf("expected missing redis addr error, got %v", err)
	}
}

func TestInitRuntimeDependencies_UnsupportedIdempotencyDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver:     StorageDriverMemory,
		IdempotencyDriver: "etcd",
	}, log.WithField("test", "unsupported-idempotency"))
	if err == nil || !strings.Contains(err.Error(), "unsupported idempotency driver") {
		t.Fatalf("expected unsupported idempotency driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_Redis(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("ORDERENGINE_REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("ORDERENGINE_REDIS_TEST_ADDR is not set")
	}

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver:     StorageDriverMemory,
		IdempotencyDriver: IdempotencyDriverRedis,
		RedisAddr:         addr,
	}, log.WithField("test", "redis-idempotency"))
	if err != nil {
		t.Skipf("redis is not available: %v", err)
	}
	defer func() { _ = deps.close() }()

	if deps.idempotencyChecker == nil {
		t.Fatal("expected redis idempotency checker")
	}
	if check := deps.idempotencyChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy redis checker, got %+v", check)
	}
}

func TestRuntimeDependencies_CloseNil(t *testing.T) {
	t.Parallel()

	var deps *runtimeDependencies
	if err := deps.close(); err != nil {
		t.Fatalf("nil close should be a no-op, got %v", err)
	}
}
