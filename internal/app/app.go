package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/mall/internal/health"
	"github.com/vladislavdragonenkov/mall/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/mall/internal/metrics"
	"github.com/vladislavdragonenkov/mall/internal/service/catalog"
	"github.com/vladislavdragonenkov/mall/internal/service/idempotency"
	"github.com/vladislavdragonenkov/mall/internal/service/order"
	"github.com/vladislavdragonenkov/mall/internal/service/outbox"
	"github.com/vladislavdragonenkov/mall/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/mall/internal/version"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	// healthWatchInterval - как часто статус зависимостей переносится в gRPC health.
	healthWatchInterval = 15 * time.Second
)

// Run поднимает REST API, сервер метрик и health, служебный gRPC и фоновые воркеры,
// и работает до отмены ctx. При штатной остановке возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.closeFn()

	shutdownTracing, err := initTracing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	// Kafka опциональна: без неё события outbox только логируются.
	transport := newOutboxTransport(cfg, logger)
	defer transport.close(logger)

	coordinator := order.NewCoordinator(deps.backend,
		order.WithLogger(logger.WithField("component", "order-coordinator")),
		order.WithMetrics(metrics.NewOrderMetrics()),
		order.WithTracer(otel.Tracer("mall/order")),
	)
	queries := order.NewQueryService(deps.backend, logger.WithField("component", "order-query"))
	catalogSvc := catalog.NewService(deps.backend, logger.WithField("component", "catalog"))

	apiHandler := httpapi.NewHandler(httpapi.Dependencies{
		Orders:      coordinator,
		Queries:     queries,
		Catalog:     catalogSvc,
		Idempotency: deps.idempotencyRepo,
	},
		httpapi.WithLogger(logger.WithField("component", "http")),
		httpapi.WithMetrics(metrics.NewHTTPMetrics()),
		httpapi.WithIdempotencyTTL(cfg.IdempotencyTTL),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
	)

	healthHandler := healthcheck.NewHandler(version.Current().Version)
	registerHealthCheckers(healthHandler, cfg, deps)

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if transport.dlq != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(transport.dlq))
	}
	outboxWorker := outbox.NewWorker(deps.backend.Outbox(), transport.primary, outboxOpts...)

	grpcServer, grpcHealth := newOpsGRPCServer(logger)

	apiListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiListener.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	apiSrv := &http.Server{
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Infof("REST API слушает %s", apiListener.Addr())
		if err := apiSrv.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcListener.Addr())
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	metricsSrv := startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error {
		healthHandler.Watch(gctx, healthWatchInterval, func(status healthcheck.Status) {
			if gctx.Err() == nil {
				grpcHealth.SetServingStatus("", grpcServingStatus(status))
			}
		})
		return nil
	})

	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})

	if deps.idempotencyOwnsCleanup {
		cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		g.Go(func() error {
			cleanupWorker.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")

		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, shutdownTimeout(cfg), logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// registerHealthCheckers регистрирует проверки зависимостей.
// Хранилище и Redis критичны; брокер и backlog outbox только переводят сервис в degraded.
func registerHealthCheckers(h *healthcheck.Handler, cfg Config, deps runtimeDependencies) {
	if deps.storageChecker != nil {
		h.Critical("storage", deps.storageChecker)
	}
	if deps.redisChecker != nil {
		h.Critical("redis", deps.redisChecker)
	}
	if brokers := kafka.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		h.Optional("kafka", func(context.Context) error {
			return kafka.CheckBrokers(brokers)
		})
	}
	if cfg.OutboxMaxPending > 0 {
		h.Optional("outbox", outboxBacklogCheck(deps.backend.Outbox(), cfg.OutboxMaxPending))
	}
}

// grpcServingStatus переводит статус health в статус gRPC health:
// degraded сервис продолжает обслуживать запросы.
func grpcServingStatus(status healthcheck.Status) healthpb.HealthCheckResponse_ServingStatus {
	if status == healthcheck.StatusUnhealthy {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func outboxBacklogCheck(repo domain.OutboxRepository, maxPending int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return fmt.Errorf("outbox stats: %w", err)
		}
		if stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	}
}

// newOpsGRPCServer собирает служебный gRPC: health, reflection и prometheus-интерцепторы.
func newOpsGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection нужен grpcurl
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

func shutdownTimeout(cfg Config) time.Duration {
	if cfg.ShutdownTimeout > 0 {
		return cfg.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

// opsMux собирает служебные эндпоинты: /metrics и health-пробы.
func opsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.Live)
	mux.HandleFunc("/readyz", healthHandler.Ready)
	return mux
}

// startMetricsServer запускает служебный HTTP-сервер в фоне.
// Сервер останавливается при отмене ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: opsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.WithField("addr", addr).Info("метрики и health-пробы: /metrics, /healthz, /livez, /readyz")
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
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
