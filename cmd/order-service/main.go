package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercrud/internal/app"
)

const (
	envHTTPAddr                    = "ORDERCRUD_HTTP_ADDR"
	envMetricsAddr                 = "ORDERCRUD_METRICS_ADDR"
	envStorageDriver               = "ORDERCRUD_STORAGE_DRIVER"
	envPostgresDSN                 = "ORDERCRUD_POSTGRES_DSN"
	envPostgresAutoMigrate         = "ORDERCRUD_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaTopic                  = "ORDERCRUD_KAFKA_TOPIC"
	envKafkaDLQTopic               = "ORDERCRUD_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "ORDERCRUD_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "ORDERCRUD_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "ORDERCRUD_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "ORDERCRUD_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "ORDERCRUD_OUTBOX_MAX_PENDING"
	envIdempotencyCleanupInterval  = "ORDERCRUD_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "ORDERCRUD_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envLogLevel                    = "ORDERCRUD_LOG_LEVEL"
	envLogFormat                   = "ORDERCRUD_LOG_FORMAT"
)

// envLookup совпадает по сигнатуре с os.LookupEnv.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) []string {
	var warnings []string

	if format, ok := lookup(envLogFormat); ok && strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envLogLevel, err))
		} else {
			log.SetLevel(level)
		}
	}
	return warnings
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
	}
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	positiveInt := func(key string, target *int, allowZero bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		check, msg := func(n int) bool { return n > 0 }, "must be > 0"
		if allowZero {
			check, msg = func(n int) bool { return n >= 0 }, "must be >= 0"
		}
		parsed, err := parseInt(v, check, msg)
		if err != nil {
			warn(key, err)
			return
		}
		*target = parsed
	}
	duration := func(key string, target *time.Duration, allowZero bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		check, msg := func(d time.Duration) bool { return d > 0 }, "must be > 0"
		if allowZero {
			check, msg = func(d time.Duration) bool { return d >= 0 }, "must be >= 0"
		}
		parsed, err := parseDuration(v, check, msg)
		if err != nil {
			warn(key, err)
			return
		}
		*target = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(envPostgresAutoMigrate); ok {
		parsed, err := parseBool(v)
		if err != nil {
			warn(envPostgresAutoMigrate, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, false)
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize, false)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, false)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, true)
	positiveInt(envOutboxMaxPending, &cfg.OutboxMaxPending, true)
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, false)
	positiveInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, false)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения.
	_ = godotenv.Load()

	logWarnings := setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range append(logWarnings, warnings...) {
		log.Warnf("некорректная переменная окружения, используется значение по умолчанию: %s", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
	}).Info("запускаем order service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("order service остановлен")
}
