package gateway

import "encoding/json"

// Order statuses reported by the provider.
const (
	OrderStatusCreated = "created"
	OrderStatusPaid    = "paid"
)

// Webhook event types.
const (
	EventPaymentSuccess = "PAYMENT_SUCCESS_WEBHOOK"
	EventPaymentFailed  = "PAYMENT_FAILED_WEBHOOK"
	EventRefundStatus   = "REFUND_STATUS_WEBHOOK"
)

// RefundNote is attached to every refund submitted by the service.
const RefundNote = "Refund requested by hotel management"

// OrderRequest is forwarded as-is to the provider's order endpoint.
// Amount is in minor currency units. Receipt should be unique per order.
type OrderRequest struct {
	Amount   int64       `json:"amount"`
	Currency string      `json:"currency"`
	Receipt  string      `json:"receipt"`
	Notes    *OrderNotes `json:"notes,omitempty"`
}

type OrderNotes struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	BookingID     string `json:"booking_id,omitempty"`
}

type OrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Receipt  string `json:"receipt"`
}

// OrderDetails is the provider's view of an order. Raw keeps the full body.
type OrderDetails struct {
	ID         string          `json:"id"`
	Amount     int64           `json:"amount"`
	AmountPaid int64           `json:"amount_paid"`
	AmountDue  int64           `json:"amount_due"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	Receipt    string          `json:"receipt"`
	Attempts   int             `json:"attempts"`
	Notes      *OrderNotes     `json:"notes,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	Raw        json.RawMessage `json:"-"`
}

type PaymentDetails struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	Method           string          `json:"method"`
	ErrorCode        string          `json:"error_code,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
	CreatedAt        int64           `json:"created_at"`
	Raw              json.RawMessage `json:"-"`
}

type RefundRequest struct {
	OrderID  string
	Amount   int64
	RefundID string
}

type refundBody struct {
	RefundAmount int64  `json:"refund_amount"`
	RefundID     string `json:"refund_id"`
	RefundNote   string `json:"refund_note"`
}

type Refund struct {
	RefundID string          `json:"refund_id"`
	OrderID  string          `json:"order_id"`
	Amount   int64           `json:"refund_amount"`
	Currency string          `json:"refund_currency,omitempty"`
	Status   string          `json:"refund_status"`
	Note     string          `json:"refund_note"`
	Raw      json.RawMessage `json:"-"`
}

// WebhookEvent is a provider notification after its signature was checked.
type WebhookEvent struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"type"`
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id,omitempty"`
	RefundID  string          `json:"refund_id,omitempty"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Raw       json.RawMessage `json:"-"`
}
