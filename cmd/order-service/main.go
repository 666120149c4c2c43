package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/app"
	"github.com/vladislavdragonenkov/orderengine/internal/version"
)

const (
	envLogLevel  = "ORDERENGINE_LOG_LEVEL"
	envLogFormat = "ORDERENGINE_LOG_FORMAT"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}

	parsed := log.InfoLevel
	if strings.TrimSpace(level) != "" {
		var err error
		if parsed, err = log.ParseLevel(strings.TrimSpace(level)); err != nil {
			return err
		}
	}
	log.SetLevel(parsed)
	return nil
}

func main() {
	if err := setupLogger(os.Getenv(envLogLevel), os.Getenv(envLogFormat)); err != nil {
		log.WithError(err).Warn("invalid logger settings, using defaults")
		_ = setupLogger("", "")
	}

	cfg, warnings, err := app.LoadConfig()
	for _, warning := range warnings {
		log.Warn(warning)
	}
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":          cfg.HTTPAddr,
		"grpc_addr":          cfg.GRPCAddr,
		"metrics_addr":       cfg.MetricsAddr,
		"storage_driver":     cfg.StorageDriver,
		"idempotency_driver": cfg.IdempotencyDriver,
		"kafka_enabled":      len(cfg.KafkaBrokers) > 0,
		"tracing_enabled":    cfg.OTLPEndpoint != "",
	}).Info("запускаем order engine")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("order engine остановлен")
}
