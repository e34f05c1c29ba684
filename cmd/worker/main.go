package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hotelbooker/bookingpay/internal/bootstrap"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	infraRedis "github.com/hotelbooker/bookingpay/internal/infrastructure/redis"
	"github.com/hotelbooker/bookingpay/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Worker failed: %v\n", err)
		os.Exit(1)
	}
}

// run owns every deferred cleanup so main can exit non-zero after them.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "bookingpay-worker", "bookingpay_worker")
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close(context.Background())

	workerCfg := app.Config.Worker
	logger := observability.WithComponent(app.Logger, "worker")
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.PaymentEventStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
		return fmt.Errorf("create consumer group: %w", err)
	}

	app.Logger.Info().
		Str("stream", infraRedis.PaymentEventStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for messages...")

	reconcile := worker.NewReconcile(
		infraRedis.PaymentEventStream,
		consumer,
		app.Streams,
		app.PaymentService,
		app.Metrics,
		logger.With().Str("job", "reconcile").Logger(),
	)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Reconcile recorded events against the provider.
	g.Go(func() error {
		return reconcile.Run(gCtx)
	})

	// 2. Publish ledger events whose first publish failed.
	g.Go(func() error {
		lock := infraRedis.NewJobLock(app.Redis, "publish_pending", workerCfg.LockTTL)
		return worker.Periodic(gCtx, "publish_pending", workerCfg.PublishInterval, lock, app.Metrics, logger,
			func(ctx context.Context) error {
				n, err := app.PaymentService.PublishPending(ctx, workerCfg.PublishBatch)
				if n > 0 {
					logger.Info().Int("count", n).Msg("Published pending events")
				}
				return err
			})
	})

	// 3. Drop expired idempotency records.
	g.Go(func() error {
		lock := infraRedis.NewJobLock(app.Redis, "idempotency_cleanup", workerCfg.LockTTL)
		return worker.Periodic(gCtx, "idempotency_cleanup", workerCfg.CleanupInterval, lock, app.Metrics, logger,
			func(ctx context.Context) error {
				n, err := app.IdempotencyRepo.Cleanup(ctx)
				if n > 0 {
					logger.Info().Int64("count", n).Msg("Removed expired idempotency keys")
				}
				return err
			})
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Worker error")
		return err
	}
	app.Logger.Info().Msg("Worker exited")
	return nil
}
