package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	payload := json.RawMessage(`{"type":"PAYMENT_SUCCESS"}`)

	e, err := NewEvent("PAYMENT_SUCCESS", "order_1", "sig", payload)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, "PAYMENT_SUCCESS", e.EventType)
	assert.Equal(t, "order_1", e.OrderID)
	assert.Equal(t, "sig", e.Signature)
	assert.JSONEq(t, string(payload), string(e.Payload))
	assert.False(t, e.ReceivedAt.IsZero())
	assert.False(t, e.IsPublished())
	assert.False(t, e.IsReconciled())
}

func TestNewEvent_RequiredFields(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		orderID   string
		signature string
		field     string
	}{
		{"missing type", "", "order_1", "sig", "event_type"},
		{"missing order", "PAYMENT_SUCCESS", "", "sig", "order_id"},
		{"missing signature", "PAYMENT_SUCCESS", "order_1", "", "signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEvent(tt.eventType, tt.orderID, tt.signature, nil)
			assert.Nil(t, e)

			var ve *domainErrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestEvent_Marks(t *testing.T) {
	e, err := NewEvent("PAYMENT_SUCCESS", "order_1", "sig", nil)
	require.NoError(t, err)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.MarkPublished(at)
	assert.True(t, e.IsPublished())
	assert.Equal(t, at, *e.PublishedAt)

	e.MarkReconciled("paid", at)
	assert.True(t, e.IsReconciled())
	assert.Equal(t, "paid", e.OrderStatus)
}
