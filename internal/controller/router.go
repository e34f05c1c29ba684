package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hotelbooker/bookingpay/internal/domain/idempotency"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/config"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	customMW "github.com/hotelbooker/bookingpay/internal/middleware"
	"github.com/hotelbooker/bookingpay/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	DB               Pinger
	Redis            Pinger
	PaymentService   *service.PaymentService
	IdempotencyStore idempotency.Store
	IdempotencyTTL   time.Duration
	Metrics          *observability.Metrics
	Gatherer         prometheus.Gatherer
	CORSConfig       config.CORSConfig
	WebhookRateLimit int
	Logger           zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing("bookingpay"))
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", customMW.HeaderIdempotencyKey},
		ExposedHeaders:   []string{customMW.HeaderIdempotencyReplayed},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.SecurityHeaders())
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.DB, deps.Redis)
	orderH := NewOrderController(deps.PaymentService)
	webhookH := NewWebhookController(deps.PaymentService)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", metricsHandler(deps.Gatherer))

	r.Route("/api/v1", func(r chi.Router) {
		idempotencyMW := customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL, deps.Logger)

		// Orders
		r.With(idempotencyMW).Post("/orders", orderH.CreateOrder)
		r.Get("/orders/{orderID}", orderH.GetOrder)
		r.Get("/orders/{orderID}/payments/{paymentID}", orderH.GetPayment)
		r.With(idempotencyMW).Post("/orders/{orderID}/refunds", orderH.Refund)
		r.Get("/orders/{orderID}/events", orderH.ListEvents)

		// Provider notifications
		rpm := deps.WebhookRateLimit
		if rpm <= 0 {
			rpm = 300
		}
		r.With(customMW.RateLimit(rpm)).Post("/webhooks/payments", webhookH.Receive)
	})

	return r
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
