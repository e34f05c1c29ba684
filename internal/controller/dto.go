package controller

import (
	"encoding/json"
	"time"

	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/gateway"
)

// --- Request DTOs ---
// Amounts are integers in minor currency units (paise for INR).

type CreateOrderRequest struct {
	Amount   int64              `json:"amount" validate:"required,gt=0"`
	Currency string             `json:"currency" validate:"required,len=3,uppercase"`
	Receipt  string             `json:"receipt" validate:"required,max=40"`
	Notes    *OrderNotesRequest `json:"notes,omitempty"`
}

type OrderNotesRequest struct {
	CustomerName  string `json:"customer_name" validate:"required"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	CustomerPhone string `json:"customer_phone" validate:"required"`
	BookingID     string `json:"booking_id,omitempty"`
}

// RefundRequest leaves RefundID optional; one is generated when omitted.
type RefundRequest struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	RefundID string `json:"refund_id,omitempty" validate:"omitempty,max=40"`
}

func (r CreateOrderRequest) toGateway() gateway.OrderRequest {
	req := gateway.OrderRequest{
		Amount:   r.Amount,
		Currency: r.Currency,
		Receipt:  r.Receipt,
	}
	if r.Notes != nil {
		req.Notes = &gateway.OrderNotes{
			CustomerName:  r.Notes.CustomerName,
			CustomerEmail: r.Notes.CustomerEmail,
			CustomerPhone: r.Notes.CustomerPhone,
			BookingID:     r.Notes.BookingID,
		}
	}
	return req
}

// --- Response DTOs ---

type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
	ProviderCode string `json:"provider_code,omitempty"`
}

type WebhookAckResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// EventResponse is one recorded provider notification.
type EventResponse struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	OrderID      string          `json:"order_id"`
	PaymentID    string          `json:"payment_id,omitempty"`
	RefundID     string          `json:"refund_id,omitempty"`
	Status       string          `json:"status"`
	Amount       int64           `json:"amount"`
	Currency     string          `json:"currency"`
	ReceivedAt   time.Time       `json:"received_at"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	OrderStatus  string          `json:"order_status,omitempty"`
	ReconciledAt *time.Time      `json:"reconciled_at,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func FromEvent(e *webhook.Event) *EventResponse {
	return &EventResponse{
		ID:           e.ID.String(),
		EventType:    e.EventType,
		OrderID:      e.OrderID,
		PaymentID:    e.PaymentID,
		RefundID:     e.RefundID,
		Status:       e.Status,
		Amount:       e.Amount,
		Currency:     e.Currency,
		ReceivedAt:   e.ReceivedAt,
		PublishedAt:  e.PublishedAt,
		OrderStatus:  e.OrderStatus,
		ReconciledAt: e.ReconciledAt,
		Payload:      e.Payload,
	}
}
