// Package worker runs the background side of the payment service: it
// reconciles recorded webhook events against the provider and keeps the
// event stream and idempotency table in shape.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	"github.com/hotelbooker/bookingpay/pkg/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Consumer interface {
	Read(ctx context.Context) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
}

type DeadLetterQueue interface {
	PublishToDLQ(ctx context.Context, messageID, reason string, values map[string]any) error
}

type Reconciler interface {
	ReconcileEvent(ctx context.Context, eventID uuid.UUID) (*webhook.Event, error)
}

// Locker runs fn on at most one worker instance at a time.
type Locker interface {
	Run(ctx context.Context, fn func(context.Context) error) (bool, error)
}

// Reconcile consumes the payment event stream.
type Reconcile struct {
	consumer   Consumer
	dlq        DeadLetterQueue
	reconciler Reconciler
	retry      retry.Config
	metrics    *observability.Metrics
	logger     zerolog.Logger
	stream     string
}

func NewReconcile(stream string, consumer Consumer, dlq DeadLetterQueue, reconciler Reconciler, metrics *observability.Metrics, logger zerolog.Logger) *Reconcile {
	return &Reconcile{
		consumer:   consumer,
		dlq:        dlq,
		reconciler: reconciler,
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			RetryIf:      providerOutage,
		},
		metrics: metrics,
		logger:  logger,
		stream:  stream,
	}
}

// providerOutage reports failures that a later attempt may get past.
func providerOutage(err error) bool {
	return errors.Is(err, domainErrors.ErrProviderUnavailable) || errors.Is(err, domainErrors.ErrProviderTimeout)
}

// WithRetry overrides the provider retry policy.
func (r *Reconcile) WithRetry(cfg retry.Config) *Reconcile {
	r.retry = cfg
	return r
}

// Run reads until ctx is cancelled.
func (r *Reconcile) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := r.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			r.Handle(ctx, msg)
		}
	}
}

// Handle reconciles one message. Every message is acked; the ones that
// could not be reconciled are copied to the dead letter stream first.
func (r *Reconcile) Handle(ctx context.Context, msg redis.XMessage) {
	status := "success"
	if reason := r.reconcile(ctx, msg); reason != "" {
		status = "dead_lettered"
		if err := r.dlq.PublishToDLQ(ctx, msg.ID, reason, msg.Values); err != nil {
			r.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to dead-letter message")
			status = "failed"
		}
	}
	r.count(r.stream, status)

	if err := r.consumer.Ack(ctx, msg.ID); err != nil {
		r.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to ack message")
	}
}

func (r *Reconcile) reconcile(ctx context.Context, msg redis.XMessage) string {
	raw, _ := msg.Values["event_id"].(string)
	eventID, err := uuid.Parse(raw)
	if err != nil {
		r.logger.Error().Str("raw", raw).Str("message_id", msg.ID).Msg("Invalid event ID in stream message")
		return "invalid event id"
	}

	event, err := retry.DoWithResult(ctx, r.retry, func() (*webhook.Event, error) {
		return r.reconciler.ReconcileEvent(ctx, eventID)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("event_id", raw).Msg("Failed to reconcile event")
		return err.Error()
	}

	r.logger.Info().
		Str("event_id", raw).
		Str("order_id", event.OrderID).
		Str("order_status", event.OrderStatus).
		Msg("Event reconciled")
	return ""
}

func (r *Reconcile) count(job, status string) {
	if r.metrics != nil {
		r.metrics.WorkerMessagesProcessed.WithLabelValues(job, status).Inc()
	}
}

// Periodic runs fn every interval under lock until ctx is cancelled.
func Periodic(ctx context.Context, name string, interval time.Duration, lock Locker, metrics *observability.Metrics, logger zerolog.Logger, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		ran, err := lock.Run(ctx, fn)
		switch {
		case err != nil:
			logger.Error().Err(err).Str("job", name).Msg("Job failed")
			countJob(metrics, name, "failed")
		case !ran:
			logger.Debug().Str("job", name).Msg("Job held by another instance")
		default:
			countJob(metrics, name, "success")
		}
	}
}

func countJob(m *observability.Metrics, job, status string) {
	if m != nil {
		m.WorkerMessagesProcessed.WithLabelValues(job, status).Inc()
	}
}
