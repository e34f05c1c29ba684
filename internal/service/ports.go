package service

import (
	"context"
	"net/http"
	"time"

	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/gateway"
)

//go:generate mockgen -source=ports.go -destination=mocks/ports_mock.go -package=mocks

// Gateway is the subset of *gateway.Client the service depends on.
type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error)
	GetOrderDetails(ctx context.Context, orderID string) (*gateway.OrderDetails, error)
	GetPaymentDetails(ctx context.Context, orderID, paymentID string) (*gateway.PaymentDetails, error)
	RefundPayment(ctx context.Context, orderID string, amount int64, refundID string) (*gateway.Refund, error)
	VerifyWebhookSignature(payload []byte, headers http.Header) bool
}

// ReplayGuard remembers recently seen webhook deliveries.
type ReplayGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishWebhookEvent(ctx context.Context, e *webhook.Event) error
}

// TransactionManager runs fn inside a database transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
