package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

const (
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
)

// RetryConfig задаёт повтор транзакций при временных конфликтах PostgreSQL.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// isTransient сообщает, можно ли безопасно повторить транзакцию целиком.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailureCode || pgErr.Code == deadlockDetectedCode
}

// retryTransient выполняет fn, повторяя её с экспоненциальной задержкой,
// пока ошибка временная и попытки не исчерпаны.
func retryTransient(ctx context.Context, cfg RetryConfig, logger *log.Entry, fn func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	delay := cfg.InitialDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			if err == nil && attempt > 1 {
				logger.WithField("attempt", attempt).Info("transaction succeeded after retry")
			}
			return err
		}
		if attempt == attempts {
			break
		}

		logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("transient transaction failure, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	logger.WithError(err).WithField("max_attempts", attempts).Error("transaction failed after all retry attempts")
	return err
}
