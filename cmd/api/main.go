package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hotelbooker/bookingpay/internal/bootstrap"
	"github.com/hotelbooker/bookingpay/internal/controller"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "bookingpay-api", "bookingpay")
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close(context.Background())

	metrics := app.Metrics
	if !app.Config.Observability.EnableMetrics {
		metrics = nil
	}

	router := controller.NewRouter(controller.RouterDeps{
		DB:    app.Pool,
		Redis: controller.PingerFunc(func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }),

		PaymentService:   app.PaymentService,
		IdempotencyStore: app.IdempotencyRepo,
		IdempotencyTTL:   app.Config.Idempotency.TTL,
		Metrics:          metrics,
		CORSConfig:       app.Config.Server.CORS,
		WebhookRateLimit: app.Config.Webhook.RequestsPerMinute,
		Logger:           observability.WithComponent(app.Logger, "http"),
	})

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Server stopped with error")
		return err
	}
	app.Logger.Info().Msg("Server exited")
	return nil
}
