package testutil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
)

const WebhookSecret = "whsec_test_fake"

// PaymentWebhookBody builds a provider notification body.
func PaymentWebhookBody(eventID, eventType, orderID, paymentID, status string, amount int64) []byte {
	body, _ := json.Marshal(map[string]any{
		"event_id": eventID,
		"type":     eventType,
		"data": map[string]any{
			"order_id":   orderID,
			"payment_id": paymentID,
			"status":     status,
			"amount":     amount,
			"currency":   "INR",
		},
	})
	return body
}

// WebhookHeaders returns headers carrying signature and timestamp for body.
// sign is usually gateway.SignWebhook.
func WebhookHeaders(sign func(secret, ts string, body []byte) string, body []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set("x-webhook-signature", sign(WebhookSecret, ts, body))
	h.Set("x-webhook-timestamp", ts)
	return h
}

func NewTestEvent(orderID, eventType string) *webhook.Event {
	return &webhook.Event{
		ID:         uuid.New(),
		EventType:  eventType,
		OrderID:    orderID,
		Status:     "SUCCESS",
		Amount:     10000,
		Currency:   "INR",
		Signature:  uuid.NewString(),
		Payload:    json.RawMessage(`{}`),
		ReceivedAt: time.Now().UTC(),
	}
}
