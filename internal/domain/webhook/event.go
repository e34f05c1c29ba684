package webhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
)

// Event is one verified provider notification as recorded in the ledger.
type Event struct {
	ID              uuid.UUID
	ProviderEventID string
	EventType       string
	OrderID         string
	PaymentID       string
	RefundID        string
	Status          string
	Amount          int64
	Currency        string
	Signature       string
	Payload         json.RawMessage
	ReceivedAt      time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	OrderStatus     string
	ReconciledAt    *time.Time
}

// NewEvent builds a ledger entry. The signature doubles as the delivery key,
// so it must be present.
func NewEvent(eventType, orderID, signature string, payload json.RawMessage) (*Event, error) {
	if eventType == "" {
		return nil, domainErrors.NewValidationError("event_type", "is required")
	}
	if orderID == "" {
		return nil, domainErrors.NewValidationError("order_id", "is required")
	}
	if signature == "" {
		return nil, domainErrors.NewValidationError("signature", "is required")
	}

	return &Event{
		ID:         uuid.New(),
		EventType:  eventType,
		OrderID:    orderID,
		Signature:  signature,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

func (e *Event) IsPublished() bool {
	return e.PublishedAt != nil
}

func (e *Event) IsReconciled() bool {
	return e.ReconciledAt != nil
}

func (e *Event) MarkPublished(at time.Time) {
	e.PublishedAt = &at
}

// MarkReconciled records the provider's order status as confirmed by a
// follow-up lookup.
func (e *Event) MarkReconciled(orderStatus string, at time.Time) {
	e.OrderStatus = orderStatus
	e.ReconciledAt = &at
}
