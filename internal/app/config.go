package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	// StorageDriverMemory выбирает in-memory хранилище для разработки и тестов.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres выбирает PostgreSQL через pgx.
	StorageDriverPostgres = "postgres"

	// IdempotencyDriverStorage хранит ключи в основном хранилище.
	IdempotencyDriverStorage = "storage"
	// IdempotencyDriverRedis хранит ключи в Redis.
	IdempotencyDriverRedis = "redis"
)

// Переменные окружения сервиса.
const (
	EnvHTTPAddr                    = "ORDERENGINE_HTTP_ADDR"
	EnvGRPCAddr                    = "ORDERENGINE_GRPC_ADDR"
	EnvMetricsAddr                 = "ORDERENGINE_METRICS_ADDR"
	EnvStorageDriver               = "ORDERENGINE_STORAGE_DRIVER"
	EnvPostgresDSN                 = "ORDERENGINE_POSTGRES_DSN"
	EnvPostgresAutoMigrate         = "ORDERENGINE_POSTGRES_AUTO_MIGRATE"
	EnvIdempotencyDriver           = "ORDERENGINE_IDEMPOTENCY_DRIVER"
	EnvRedisAddr                   = "ORDERENGINE_REDIS_ADDR"
	EnvIdempotencyTTL              = "ORDERENGINE_IDEMPOTENCY_TTL"
	EnvKafkaBrokers                = "ORDERENGINE_KAFKA_BROKERS"
	EnvKafkaOrderTopic             = "ORDERENGINE_KAFKA_ORDER_TOPIC"
	EnvKafkaDLQTopic               = "ORDERENGINE_KAFKA_DLQ_TOPIC"
	EnvOutboxPollInterval          = "ORDERENGINE_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize             = "ORDERENGINE_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts           = "ORDERENGINE_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay            = "ORDERENGINE_OUTBOX_RETRY_DELAY"
	EnvIdempotencyCleanupInterval  = "ORDERENGINE_IDEMPOTENCY_CLEANUP_INTERVAL"
	EnvIdempotencyCleanupBatchSize = "ORDERENGINE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	EnvTaxRate                     = "ORDERENGINE_TAX_RATE"
	EnvOrderNumberPrefix           = "ORDERENGINE_ORDER_NUMBER_PREFIX"
	EnvRequestTimeout              = "ORDERENGINE_REQUEST_TIMEOUT"
	EnvOTLPEndpoint                = "ORDERENGINE_OTLP_ENDPOINT"
	EnvOTLPInsecure                = "ORDERENGINE_OTLP_INSECURE"
	EnvServiceName                 = "ORDERENGINE_SERVICE_NAME"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	IdempotencyDriver           string
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	KafkaBrokers    []string
	KafkaOrderTopic string
	KafkaDLQTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	TaxRate           decimal.Decimal
	OrderNumberPrefix string
	RequestTimeout    time.Duration

	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string
}

// DefaultConfig возвращает настройки по умолчанию: память, без Kafka и трейсинга.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		IdempotencyDriver:           IdempotencyDriverStorage,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		TaxRate:                     decimal.Zero,
		OrderNumberPrefix:           "ORD",
		RequestTimeout:              10 * time.Second,
		OTLPInsecure:                true,
		ServiceName:                 "orderengine",
	}
}

// Validate проверяет сочетания настроек, без которых сервис не запустится.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("%s is required for postgres storage", EnvPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.IdempotencyDriver {
	case IdempotencyDriverStorage:
	case IdempotencyDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, fmt.Errorf("%s is required for redis idempotency", EnvRedisAddr))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency driver %q", c.IdempotencyDriver))
	}

	if c.TaxRate.IsNegative() {
		errs = append(errs, errors.New("tax rate must not be negative"))
	}
	return errors.Join(errs...)
}

// EnvLookup читает переменную окружения: os.LookupEnv в проде, map в тестах.
type EnvLookup func(key string) (string, bool)

// LoadConfig читает необязательный .env, затем ORDERENGINE_* и проверяет результат.
// Некорректные значения заменяются значениями по умолчанию и попадают в warnings.
func LoadConfig() (Config, []string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, warnings := ConfigFromEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, warnings, err
	}
	return cfg, warnings, nil
}

// ConfigFromEnv накладывает переменные окружения на DefaultConfig.
func ConfigFromEnv(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v, using default", key, raw, err))
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	positiveInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = b
		}
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(EnvHTTPAddr, &cfg.HTTPAddr)
	str(EnvGRPCAddr, &cfg.GRPCAddr)
	str(EnvMetricsAddr, &cfg.MetricsAddr)
	str(EnvStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(EnvPostgresDSN, &cfg.PostgresDSN)
	boolean(EnvPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(EnvIdempotencyDriver, &cfg.IdempotencyDriver)
	cfg.IdempotencyDriver = strings.ToLower(cfg.IdempotencyDriver)
	str(EnvRedisAddr, &cfg.RedisAddr)
	duration(EnvIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	duration(EnvIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	positiveInt(EnvIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	if v, ok := lookup(EnvKafkaBrokers); ok {
		cfg.KafkaBrokers = splitCSV(v)
	}
	str(EnvKafkaOrderTopic, &cfg.KafkaOrderTopic)
	str(EnvKafkaDLQTopic, &cfg.KafkaDLQTopic)

	duration(EnvOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(EnvOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(EnvOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(EnvOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")

	if v, ok := lookup(EnvTaxRate); ok && strings.TrimSpace(v) != "" {
		rate, err := decimal.NewFromString(strings.TrimSpace(v))
		switch {
		case err != nil:
			warn(EnvTaxRate, v, err)
		case rate.IsNegative():
			warn(EnvTaxRate, v, errors.New("must be >= 0"))
		default:
			cfg.TaxRate = rate
		}
	}
	str(EnvOrderNumberPrefix, &cfg.OrderNumberPrefix)
	duration(EnvRequestTimeout, &cfg.RequestTimeout, nonNegative, "must be >= 0")

	str(EnvOTLPEndpoint, &cfg.OTLPEndpoint)
	boolean(EnvOTLPInsecure, &cfg.OTLPInsecure)
	str(EnvServiceName, &cfg.ServiceName)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
