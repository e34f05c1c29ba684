package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/gateway"
	"github.com/hotelbooker/bookingpay/pkg/saga"
)

// Webhook results used as metric labels.
const (
	WebhookAccepted         = "accepted"
	WebhookInvalidSignature = "invalid_signature"
	WebhookDuplicate        = "duplicate"
	WebhookMalformed        = "malformed"
	WebhookFailed           = "failed"
)

// HandleWebhook verifies, deduplicates, records and publishes one provider
// notification. It returns ErrInvalidSignature, ErrDuplicateDelivery or
// ErrMalformedEvent for deliveries that must not be processed.
//
// A publish failure is not returned: the event is already in the ledger and
// PublishPending hands it over later.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (*webhook.Event, error) {
	if !s.gateway.VerifyWebhookSignature(payload, headers) {
		s.countWebhook(WebhookInvalidSignature)
		return nil, domainErrors.ErrInvalidSignature
	}
	signature := gateway.WebhookSignature(headers)

	parsed, err := gateway.ParseWebhookEvent(payload)
	if err != nil {
		s.countWebhook(WebhookMalformed)
		s.logger.Warn().Err(err).Msg("malformed webhook payload")
		return nil, err
	}

	event, err := webhook.NewEvent(parsed.Type, parsed.OrderID, signature, parsed.Raw)
	if err != nil {
		s.countWebhook(WebhookMalformed)
		return nil, fmt.Errorf("%w: %w", domainErrors.ErrMalformedEvent, err)
	}
	event.ProviderEventID = parsed.ID
	event.PaymentID = parsed.PaymentID
	event.RefundID = parsed.RefundID
	event.Status = parsed.Status
	event.Amount = parsed.Amount
	event.Currency = parsed.Currency
	event.ReceivedAt = s.now().UTC()

	var saveErr error
	err = saga.New("record webhook").
		AddStep(saga.Step{
			Name: "claim delivery",
			Execute: func(ctx context.Context) error {
				return s.claim(ctx, signature)
			},
			// A failed record must not block the provider's redelivery.
			Compensate: func(ctx context.Context) error {
				if errors.Is(saveErr, domainErrors.ErrDuplicateDelivery) {
					return nil
				}
				return s.guard.Release(ctx, signature)
			},
		}).
		AddStep(saga.Step{
			Name: "record event",
			Execute: func(ctx context.Context) error {
				saveErr = s.events.Save(ctx, event)
				return saveErr
			},
		}).
		Execute(ctx)

	switch {
	case err == nil:
	case errors.Is(err, domainErrors.ErrDuplicateDelivery):
		s.countWebhook(WebhookDuplicate)
		s.logger.Info().Str("order_id", event.OrderID).Msg("duplicate webhook delivery ignored")
		return nil, domainErrors.ErrDuplicateDelivery
	default:
		s.countWebhook(WebhookFailed)
		s.logger.Error().Err(err).Str("order_id", event.OrderID).Msg("failed to record webhook event")
		return nil, err
	}

	s.countWebhook(WebhookAccepted)
	s.logger.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("order_id", event.OrderID).
		Msg("webhook event recorded")

	s.publish(ctx, event)
	return event, nil
}

func (s *PaymentService) publish(ctx context.Context, event *webhook.Event) {
	if err := s.publisher.PublishWebhookEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID.String()).Msg("publish deferred")
		if markErr := s.events.MarkPublishFailed(ctx, event.ID); markErr != nil {
			s.logger.Error().Err(markErr).Str("event_id", event.ID.String()).Msg("failed to count publish attempt")
		}
		return
	}

	at := s.now().UTC()
	if err := s.events.MarkPublished(ctx, event.ID, at); err != nil {
		s.logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to mark event published")
		return
	}
	event.MarkPublished(at)
}

// claim returns ErrDuplicateDelivery when another delivery holds signature.
// With the guard down the ledger's unique signature still rejects replays.
func (s *PaymentService) claim(ctx context.Context, signature string) error {
	claimed, err := s.guard.Claim(ctx, signature, s.replayTTL)
	if err != nil {
		s.logger.Warn().Err(err).Msg("replay guard unavailable")
		return nil
	}
	if !claimed {
		return domainErrors.ErrDuplicateDelivery
	}
	return nil
}

// PublishPending hands unpublished ledger events to the stream and returns how
// many went out.
func (s *PaymentService) PublishPending(ctx context.Context, limit int) (int, error) {
	published := 0
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		events, err := s.events.ListUnpublished(txCtx, limit)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := s.publisher.PublishWebhookEvent(ctx, e); err != nil {
				s.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("failed to publish pending event")
				if err := s.events.MarkPublishFailed(txCtx, e.ID); err != nil {
					return err
				}
				continue
			}
			if err := s.events.MarkPublished(txCtx, e.ID, s.now().UTC()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return published, fmt.Errorf("publish pending events: %w", err)
	}
	return published, nil
}

// ReconcileEvent confirms a recorded event against the provider's current
// order status. Already reconciled events are returned unchanged.
func (s *PaymentService) ReconcileEvent(ctx context.Context, eventID uuid.UUID) (*webhook.Event, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.IsReconciled() {
		return event, nil
	}

	details, err := s.gateway.GetOrderDetails(ctx, event.OrderID)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", event.OrderID, err)
	}

	at := s.now().UTC()
	if err := s.events.MarkReconciled(ctx, event.ID, details.Status, at); err != nil {
		return nil, err
	}
	event.MarkReconciled(details.Status, at)

	if event.EventType == gateway.EventPaymentSuccess && details.Status != gateway.OrderStatusPaid {
		s.logger.Warn().
			Str("order_id", event.OrderID).
			Str("order_status", details.Status).
			Msg("payment success event but order not paid")
	}
	return event, nil
}
