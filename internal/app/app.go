package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercrud/internal/health"
	"github.com/vladislavdragonenkov/ordercrud/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordercrud/internal/metrics"
	"github.com/vladislavdragonenkov/ordercrud/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordercrud/internal/service/orders"
	"github.com/vladislavdragonenkov/ordercrud/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordercrud/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/ordercrud/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Run поднимает HTTP API, сервер метрик и фоновые воркеры и блокируется до отмены ctx.
// При отмене возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger.WithFields(version.Fields()).WithField("storage", cfg.StorageDriver).Info("starting order service")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	// Ошибка Kafka не фатальна: заказы продолжают копиться в outbox.
	producer, _ := initKafkaProducer(cfg, logger)
	defer closeKafkaProducer(producer, logger)

	svc := orders.NewService(deps.repo,
		orders.WithTimeline(deps.timelineRepo),
		orders.WithOutbox(deps.outboxRepo),
		orders.WithMetrics(metrics.NewOrderMetrics()),
		orders.WithLogger(log.WithField("component", "order-service")),
	)
	router := httpapi.NewRouter(
		httpapi.NewHandler(svc, logger.WithField("layer", "http")),
		httpapi.WithRouterLogger(log.WithField("component", "http-api")),
		httpapi.WithHTTPMetrics(metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)),
		httpapi.WithIdempotency(deps.idempotencyRepo),
	)

	healthHandler := health.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	healthHandler.RegisterChecker("outbox", health.NewOutboxChecker(deps.outboxRepo, cfg.OutboxMaxPending, 0))

	stopWorkers, workersDone := startWorkers(ctx, cfg, deps, producer, logger)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		shutdownWorkers(stopWorkers, workersDone, logger)
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownHTTP(apiSrv, logger)
	shutdownHTTP(metricsSrv, logger)
	shutdownWorkers(stopWorkers, workersDone, logger)
	return runErr
}

// startWorkers запускает cleanup идемпотентности всегда, а публикацию outbox только при наличии Kafka.
func startWorkers(ctx context.Context, cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	workersCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(log.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(workersCtx)
	}()

	if producer != nil {
		worker := outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workersCtx)
		}()
	} else {
		logger.Info("kafka is not configured, outbox messages stay pending")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return cancel, done
}

// shutdownWorkers отменяет контекст воркеров и ждёт их остановки не дольше shutdownTimeout.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background workers did not stop in time")
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http server shutdown with error")
	}
}
