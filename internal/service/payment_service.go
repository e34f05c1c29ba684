package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/gateway"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

const defaultReplayTTL = 24 * time.Hour

// PaymentService sits between the HTTP layer and the payment provider. Order
// and refund calls pass straight through; webhooks are verified, recorded and
// published.
type PaymentService struct {
	gateway   Gateway
	events    webhook.Repository
	guard     ReplayGuard
	publisher EventPublisher
	txManager TransactionManager
	metrics   *observability.Metrics
	logger    zerolog.Logger
	replayTTL time.Duration
	now       func() time.Time
}

type Option func(*PaymentService)

func WithLogger(l zerolog.Logger) Option {
	return func(s *PaymentService) { s.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *PaymentService) { s.metrics = m }
}

// WithReplayTTL sets how long a delivery signature is remembered.
func WithReplayTTL(d time.Duration) Option {
	return func(s *PaymentService) {
		if d > 0 {
			s.replayTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *PaymentService) { s.now = now }
}

func NewPaymentService(
	gw Gateway,
	events webhook.Repository,
	guard ReplayGuard,
	publisher EventPublisher,
	txManager TransactionManager,
	opts ...Option,
) *PaymentService {
	s := &PaymentService{
		gateway:   gw,
		events:    events,
		guard:     guard,
		publisher: publisher,
		txManager: txManager,
		logger:    zerolog.Nop(),
		replayTTL: defaultReplayTTL,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *PaymentService) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	return s.gateway.CreateOrder(ctx, req)
}

func (s *PaymentService) GetOrder(ctx context.Context, orderID string) (*gateway.OrderDetails, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domainErrors.NewValidationError("order_id", "is required")
	}
	return s.gateway.GetOrderDetails(ctx, orderID)
}

func (s *PaymentService) GetPayment(ctx context.Context, orderID, paymentID string) (*gateway.PaymentDetails, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domainErrors.NewValidationError("order_id", "is required")
	}
	if strings.TrimSpace(paymentID) == "" {
		return nil, domainErrors.NewValidationError("payment_id", "is required")
	}
	return s.gateway.GetPaymentDetails(ctx, orderID, paymentID)
}

// Refund submits a refund. A missing RefundID is generated so the provider can
// still reject accidental resubmissions of the same call.
func (s *PaymentService) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, domainErrors.NewValidationError("order_id", "is required")
	}
	if req.Amount <= 0 {
		return nil, domainErrors.NewValidationError("amount", "must be positive")
	}
	if req.RefundID == "" {
		req.RefundID = "refund_" + uuid.NewString()
	}
	return s.gateway.RefundPayment(ctx, req.OrderID, req.Amount, req.RefundID)
}

// ListOrderEvents returns the recorded webhooks of an order, oldest first.
func (s *PaymentService) ListOrderEvents(ctx context.Context, orderID string) ([]*webhook.Event, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domainErrors.NewValidationError("order_id", "is required")
	}
	events, err := s.events.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	return events, nil
}

func (s *PaymentService) countWebhook(result string) {
	if s.metrics != nil {
		s.metrics.WebhooksTotal.WithLabelValues(result).Inc()
	}
}
