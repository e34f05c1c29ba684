package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

var testPayload = []byte(`{"event_id":"evt_1","type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order_id":"order_1","payment_id":"pay_1","status":"captured","amount":10000,"currency":"INR"}}`)

func signedHeaders(secret, ts string, payload []byte) http.Header {
	h := http.Header{}
	h.Set(HeaderWebhookSignature, SignWebhook(secret, ts, payload))
	h.Set(HeaderWebhookTimestamp, ts)
	return h
}

func TestVerifyWebhookSignature(t *testing.T) {
	client := newTestClient(t, testConfig("http://localhost"))

	tests := []struct {
		name    string
		payload []byte
		headers http.Header
		want    bool
	}{
		{"no headers", []byte("{}"), http.Header{}, false},
		{
			name:    "presence only is not enough",
			payload: []byte("{}"),
			headers: http.Header{"X-Webhook-Signature": {"abc"}, "X-Webhook-Timestamp": {"123"}},
			want:    false,
		},
		{"missing timestamp", testPayload, http.Header{"X-Webhook-Signature": {"abc"}}, false},
		{"valid", testPayload, signedHeaders(testWebhookSecret, "1700000000", testPayload), true},
		{"wrong secret", testPayload, signedHeaders("other", "1700000000", testPayload), false},
		{
			name:    "tampered payload",
			payload: append([]byte{}, strings.Replace(string(testPayload), "10000", "1", 1)...),
			headers: signedHeaders(testWebhookSecret, "1700000000", testPayload),
			want:    false,
		},
		{
			name:    "timestamp swapped",
			payload: testPayload,
			headers: func() http.Header {
				h := signedHeaders(testWebhookSecret, "1700000000", testPayload)
				h.Set(HeaderWebhookTimestamp, "1700000001")
				return h
			}(),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, client.VerifyWebhookSignature(tt.payload, tt.headers))
		})
	}
}

func TestVerifyWebhookSignature_NoSecretConfigured(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.WebhookSecret = ""
	client := newTestClient(t, cfg)

	h := signedHeaders("", "1700000000", testPayload)
	assert.False(t, client.VerifyWebhookSignature(testPayload, h))
}

func TestVerifyWebhookSignature_NonCanonicalHeaderKeys(t *testing.T) {
	client := newTestClient(t, testConfig("http://localhost"))

	h := http.Header{
		"x-webhook-signature": {SignWebhook(testWebhookSecret, "1700000000", testPayload)},
		"x-webhook-timestamp": {"1700000000"},
	}
	assert.True(t, client.VerifyWebhookSignature(testPayload, h))
}

func TestVerifyWebhookSignature_UppercaseHex(t *testing.T) {
	client := newTestClient(t, testConfig("http://localhost"))

	lower := signedHeaders(testWebhookSecret, "1700000000", testPayload)
	upper := signedHeaders(testWebhookSecret, "1700000000", testPayload)
	upper.Set(HeaderWebhookSignature, strings.ToUpper(upper.Get(HeaderWebhookSignature)))

	assert.True(t, client.VerifyWebhookSignature(testPayload, upper))
	assert.Equal(t, WebhookSignature(lower), WebhookSignature(upper), "both spellings must share one replay key")
}

func TestWebhookVerifier_Tolerance(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	v := NewWebhookVerifier(testWebhookSecret, 5*time.Minute, clock)

	tests := []struct {
		name string
		ts   string
		want bool
	}{
		{"exact", strconv.FormatInt(now.Unix(), 10), true},
		{"within tolerance", strconv.FormatInt(now.Add(-4*time.Minute).Unix(), 10), true},
		{"slightly ahead", strconv.FormatInt(now.Add(time.Minute).Unix(), 10), true},
		{"stale", strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10), false},
		{"far future", strconv.FormatInt(now.Add(time.Hour).Unix(), 10), false},
		{"milliseconds", strconv.FormatInt(now.Add(-time.Minute).UnixMilli(), 10), true},
		{"stale milliseconds", strconv.FormatInt(now.Add(-time.Hour).UnixMilli(), 10), false},
		{"not a number", "yesterday", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := signedHeaders(testWebhookSecret, tt.ts, testPayload)
			assert.Equal(t, tt.want, v.Verify(testPayload, h))
		})
	}
}

func TestWebhookVerifier_ZeroToleranceSkipsFreshness(t *testing.T) {
	v := NewWebhookVerifier(testWebhookSecret, 0, nil)

	h := signedHeaders(testWebhookSecret, "not-a-unix-time", testPayload)
	assert.True(t, v.Verify(testPayload, h))
}

func TestSignWebhook_Deterministic(t *testing.T) {
	a := SignWebhook("s", "1", []byte("body"))
	b := SignWebhook("s", "1", []byte("body"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, SignWebhook("s", "2", []byte("body")))
}

func TestParseWebhookEvent(t *testing.T) {
	evt, err := ParseWebhookEvent(testPayload)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, EventPaymentSuccess, evt.Type)
	assert.Equal(t, "order_1", evt.OrderID)
	assert.Equal(t, "pay_1", evt.PaymentID)
	assert.Equal(t, "captured", evt.Status)
	assert.Equal(t, int64(10000), evt.Amount)
	assert.Equal(t, "INR", evt.Currency)
	assert.JSONEq(t, string(testPayload), string(evt.Raw))
}

func TestParseWebhookEvent_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "not json"},
		{"missing type", `{"data":{"order_id":"order_1"}}`},
		{"missing order", `{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{}}`},
		{"refund without refund id", `{"type":"REFUND_STATUS_WEBHOOK","data":{"order_id":"order_1","status":"processed"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := ParseWebhookEvent([]byte(tt.payload))
			assert.Nil(t, evt)
			assert.ErrorIs(t, err, domainErrors.ErrMalformedEvent)
		})
	}
}

func TestParseWebhookEvent_RefundStatus(t *testing.T) {
	evt, err := ParseWebhookEvent([]byte(`{"event_id":"evt_2","type":"REFUND_STATUS_WEBHOOK","data":{"order_id":"order_1","refund_id":"refund_1","status":"processed","amount":500}}`))
	require.NoError(t, err)
	assert.Equal(t, EventRefundStatus, evt.Type)
	assert.Equal(t, "refund_1", evt.RefundID)
	assert.Equal(t, int64(500), evt.Amount)
}

func TestWebhookSignature(t *testing.T) {
	assert.Equal(t, "abc", WebhookSignature(http.Header{"X-Webhook-Signature": {" abc "}}))
	assert.Equal(t, "abc", WebhookSignature(http.Header{"x-webhook-signature": {"abc"}}))
	assert.Equal(t, "abc", WebhookSignature(http.Header{"X-Webhook-Signature": {"AbC"}}))
	assert.Empty(t, WebhookSignature(http.Header{}))
}
