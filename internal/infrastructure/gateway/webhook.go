package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
)

const (
	HeaderWebhookSignature = "x-webhook-signature"
	HeaderWebhookTimestamp = "x-webhook-timestamp"
)

// WebhookVerifier checks that a notification was signed by the provider:
// hex(HMAC-SHA256(secret, timestamp + body)).
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier builds a verifier. A zero tolerance disables the
// timestamp freshness check. A nil clock uses time.Now.
func NewWebhookVerifier(secret string, tolerance time.Duration, now func() time.Time) *WebhookVerifier {
	if now == nil {
		now = time.Now
	}
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance, now: now}
}

// Verify never returns true without a configured secret.
func (v *WebhookVerifier) Verify(payload []byte, headers http.Header) bool {
	signature := headerValue(headers, HeaderWebhookSignature)
	timestamp := headerValue(headers, HeaderWebhookTimestamp)
	if signature == "" || timestamp == "" {
		return false
	}
	if len(v.secret) == 0 {
		return false
	}
	if v.tolerance > 0 && !v.fresh(timestamp) {
		return false
	}

	expected := computeSignature(v.secret, timestamp, payload)
	return hmac.Equal([]byte(expected), []byte(WebhookSignature(headers)))
}

func (v *WebhookVerifier) fresh(timestamp string) bool {
	n, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	var sent time.Time
	if n > 1e12 {
		sent = time.UnixMilli(n)
	} else {
		sent = time.Unix(n, 0)
	}
	skew := v.now().Sub(sent)
	if skew < 0 {
		skew = -skew
	}
	return skew <= v.tolerance
}

// SignWebhook returns the signature the provider sends for payload.
func SignWebhook(secret, timestamp string, payload []byte) string {
	return computeSignature([]byte(secret), timestamp, payload)
}

func computeSignature(secret []byte, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignature returns the signature header in the lowercase hex form
// Verify compares, so replay keys do not depend on the sender's hex case.
func WebhookSignature(h http.Header) string {
	return strings.ToLower(strings.TrimSpace(headerValue(h, HeaderWebhookSignature)))
}

// headerValue tolerates maps built without canonical keys.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	for k, vals := range h {
		if strings.EqualFold(k, name) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// VerifyWebhookSignature reports whether payload carries a valid provider
// signature in headers.
func (c *Client) VerifyWebhookSignature(payload []byte, headers http.Header) bool {
	ok := c.verifier.Verify(payload, headers)
	if !ok {
		c.logger.Warn().
			Bool("has_signature", headerValue(headers, HeaderWebhookSignature) != "").
			Bool("has_timestamp", headerValue(headers, HeaderWebhookTimestamp) != "").
			Msg("webhook signature rejected")
	}
	return ok
}

type webhookEnvelope struct {
	ID   string `json:"event_id"`
	Type string `json:"type"`
	Data struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
		RefundID  string `json:"refund_id"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// ParseWebhookEvent decodes a verified payload. Callers must run
// VerifyWebhookSignature first.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", domainErrors.ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", domainErrors.ErrMalformedEvent)
	}
	if env.Data.OrderID == "" {
		return nil, fmt.Errorf("%w: missing data.order_id", domainErrors.ErrMalformedEvent)
	}
	if env.Type == EventRefundStatus && env.Data.RefundID == "" {
		return nil, fmt.Errorf("%w: missing data.refund_id", domainErrors.ErrMalformedEvent)
	}

	return &WebhookEvent{
		ID:        env.ID,
		Type:      env.Type,
		OrderID:   env.Data.OrderID,
		PaymentID: env.Data.PaymentID,
		RefundID:  env.Data.RefundID,
		Status:    env.Data.Status,
		Amount:    env.Data.Amount,
		Currency:  env.Data.Currency,
		Raw:       json.RawMessage(payload),
	}, nil
}
