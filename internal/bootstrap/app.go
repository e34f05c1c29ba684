package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/hotelbooker/bookingpay/internal/infrastructure/config"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/gateway"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	infraRedis "github.com/hotelbooker/bookingpay/internal/infrastructure/redis"
	"github.com/hotelbooker/bookingpay/internal/repository/postgres"
	"github.com/hotelbooker/bookingpay/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App holds the process-wide dependencies shared by cmd/api and cmd/worker.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	Gateway         *gateway.Client
	Events          *postgres.WebhookEventRepository
	IdempotencyRepo *postgres.IdempotencyRepository
	TxManager       *postgres.TxManager
	Streams         *infraRedis.StreamProducer
	PaymentService  *service.PaymentService

	tracer *sdktrace.TracerProvider
}

// New loads configuration and connects everything. Missing provider
// credentials fail here, before any listener starts.
func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout).
		With().Str("service", serviceName).Str("instance", cfg.InstanceID).Logger()
	logger.Info().Msg("Starting")

	app := &App{Config: cfg, Logger: logger}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.tracer = tp
			logger.Info().Msg("Tracing enabled")
		}
	}

	app.Metrics = observability.NewMetrics(metricsNamespace, nil)
	logger.Info().Msg("Metrics initialized")

	app.Gateway, err = BuildGateway(cfg, logger, app.Metrics)
	if err != nil {
		return nil, err
	}

	app.Pool, err = postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	app.Redis, err = infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		app.Pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	app.Events = postgres.NewWebhookEventRepository(app.Pool)
	app.IdempotencyRepo = postgres.NewIdempotencyRepository(app.Pool)
	app.TxManager = postgres.NewTxManager(app.Pool)
	app.Streams = infraRedis.NewStreamProducer(app.Redis)

	app.PaymentService = service.NewPaymentService(
		app.Gateway,
		app.Events,
		infraRedis.NewReplayGuard(app.Redis),
		app.Streams,
		app.TxManager,
		service.WithLogger(observability.WithComponent(logger, "payment_service")),
		service.WithMetrics(app.Metrics),
		service.WithReplayTTL(cfg.Webhook.ReplayTTL),
	)

	return app, nil
}

// BuildGateway maps configuration onto the provider client.
func BuildGateway(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*gateway.Client, error) {
	client, err := gateway.NewClient(gateway.Config{
		BaseURL:                 cfg.Gateway.BaseURL,
		KeyID:                   cfg.Gateway.KeyID,
		KeySecret:               cfg.Gateway.KeySecret,
		APIVersion:              cfg.Gateway.APIVersion,
		WebhookSecret:           cfg.Webhook.Secret,
		WebhookTolerance:        cfg.Webhook.Tolerance,
		Timeout:                 cfg.Gateway.RequestTimeout,
		ReadAttempts:            cfg.Gateway.ReadAttempts,
		RetryDelay:              cfg.Gateway.RetryDelay,
		CircuitBreakerThreshold: cfg.Gateway.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.Gateway.CircuitBreakerTimeout,
	},
		gateway.WithLogger(observability.WithComponent(logger, "gateway")),
		gateway.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("build payment gateway: %w", err)
	}
	return client, nil
}

// Close flushes traces and releases connections.
func (a *App) Close(ctx context.Context) {
	if a.tracer != nil {
		if err := observability.Shutdown(ctx, a.tracer); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
