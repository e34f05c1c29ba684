package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/domain/webhook"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/gateway"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	"github.com/hotelbooker/bookingpay/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedDelivery(eventID string) ([]byte, http.Header) {
	body := testutil.PaymentWebhookBody(eventID, gateway.EventPaymentSuccess, "order_1", "pay_1", "SUCCESS", 10000)
	return body, testutil.WebhookHeaders(gateway.SignWebhook, body, fixedNow)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(m))
	body, headers := signedDelivery("evt_1")

	f.gw.EXPECT().VerifyWebhookSignature(body, headers).Return(false)

	event, err := f.svc.HandleWebhook(context.Background(), body, headers)
	assert.Nil(t, event)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidSignature)
	assert.Empty(t, f.events.All())
	assert.Empty(t, f.publisher.Published())
	assert.Equal(t, float64(1), promtest.ToFloat64(m.WebhooksTotal.WithLabelValues(WebhookInvalidSignature)))
}

func TestHandleWebhook_RecordsAndPublishes(t *testing.T) {
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(m), WithClock(func() time.Time { return fixedNow }))
	body, headers := signedDelivery("evt_1")

	f.gw.EXPECT().VerifyWebhookSignature(body, headers).Return(true)

	event, err := f.svc.HandleWebhook(context.Background(), body, headers)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", event.ProviderEventID)
	assert.Equal(t, gateway.EventPaymentSuccess, event.EventType)
	assert.Equal(t, "order_1", event.OrderID)
	assert.Equal(t, "pay_1", event.PaymentID)
	assert.Equal(t, int64(10000), event.Amount)
	assert.Equal(t, gateway.WebhookSignature(headers), event.Signature)
	assert.Equal(t, fixedNow, event.ReceivedAt)
	assert.True(t, event.IsPublished())

	stored := f.events.All()
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsPublished())
	assert.Equal(t, 1, stored[0].PublishAttempts)

	published := f.publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, event.ID, published[0].ID)

	assert.Equal(t, float64(1), promtest.ToFloat64(m.WebhooksTotal.WithLabelValues(WebhookAccepted)))
}

func TestHandleWebhook_DuplicateDeliveryIsNotReprocessed(t *testing.T) {
	f := newFixture(t)
	body, headers := signedDelivery("evt_1")

	f.gw.EXPECT().VerifyWebhookSignature(body, headers).Return(true).Times(2)

	_, err := f.svc.HandleWebhook(context.Background(), body, headers)
	require.NoError(t, err)

	event, err := f.svc.HandleWebhook(context.Background(), body, headers)
	assert.Nil(t, event)
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateDelivery)
	assert.Len(t, f.events.All(), 1)
	assert.Len(t, f.publisher.Published(), 1)
}

func TestHandleWebhook_CaseChangedSignatureIsDuplicate(t *testing.T) {
	f := newFixture(t)
	body, headers := signedDelivery("evt_1")
	resent := headers.Clone()
	resent.Set(gateway.HeaderWebhookSignature, strings.ToUpper(headers.Get(gateway.HeaderWebhookSignature)))

	f.gw.EXPECT().VerifyWebhookSignature(body, gomock.Any()).Return(true).Times(2)

	_, err := f.svc.HandleWebhook(context.Background(), body, headers)
	require.NoError(t, err)

	event, err := f.svc.HandleWebhook(context.Background(), body, resent)
	assert.Nil(t, event)
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateDelivery)
	assert.Len(t, f.events.All(), 1)
	assert.Len(t, f.publisher.Published(), 1)
}

func TestHandleWebhook_LedgerCatchesDuplicateWhenGuardIsDown(t *testing.T) {
	f := newFixture(t)
	f.guard.ClaimFunc = func(context.Context, string, time.Duration) (bool, error) {
		return false, errors.New("redis: connection refused")
	}
	body, headers := signedDelivery("evt_1")

	f.gw.EXPECT().VerifyWebhookSignature(body, headers).Return(true).Times(2)

	_, err := f.svc.HandleWebhook(context.Background(), body, headers)
	require.NoError(t, err)

	_, err = f.svc.HandleWebhook(context.Background(), body, headers)
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateDelivery)
	assert.Len(t, f.events.All(), 1)
}

func TestHandleWebhook_Malformed(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{}}`)
	headers := testutil.WebhookHeaders(gateway.SignWebhook, body, fixedNow)

	f.gw.EXPECT().VerifyWebhookSignature(body, headers).Return(true)

	_, err := f.svc.HandleWebhook(context.Background(), body, headers)
	assert.ErrorIs(t, err, domainErrors.ErrMalformedEvent)
	assert.Empty(t, f.events.All())
}

func TestHandleWebhook_SaveFailureReleasesGuard(t *testing.T) {
	f := newFixture(t)
	saveErr := errors.New("db down")
	f.events.SaveFunc = func(context.Context, *webhook.Event) error { return saveErr }
	body, headers := signedDelivery("evt_1")

	f.gw.EXPECT().VerifyWebhookSignature(body, headers).Return(true)

	_, err := f.svc.HandleWebhook(context.Background(), body, headers)
	assert.ErrorIs(t, err, saveErr)

	claimed, err := f.guard.Claim(context.Background(), gateway.WebhookSignature(headers), time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "a redelivery must be processed again")
}

func TestHandleWebhook_PublishFailureIsDeferred(t *testing.T) {
	f := newFixture(t)
	f.publisher.PublishFunc = func(context.Context, *webhook.Event) error { return errors.New("stream unavailable") }
	body, headers := signedDelivery("evt_1")

	f.gw.EXPECT().VerifyWebhookSignature(body, headers).Return(true)

	event, err := f.svc.HandleWebhook(context.Background(), body, headers)
	require.NoError(t, err)
	assert.False(t, event.IsPublished())

	stored := f.events.All()
	require.Len(t, stored, 1)
	assert.False(t, stored[0].IsPublished())
	assert.Equal(t, 1, stored[0].PublishAttempts)

	f.publisher.PublishFunc = nil
	n, err := f.svc.PublishPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.events.All()[0].IsPublished())
}

func TestPublishPending_CountsFailures(t *testing.T) {
	f := newFixture(t)
	f.events.Add(testutil.NewTestEvent("order_1", gateway.EventPaymentSuccess))
	f.events.Add(testutil.NewTestEvent("order_2", gateway.EventPaymentFailed))
	f.publisher.PublishFunc = func(_ context.Context, e *webhook.Event) error {
		if e.OrderID == "order_2" {
			return errors.New("stream unavailable")
		}
		return nil
	}

	n, err := f.svc.PublishPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := f.events.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "order_2", pending[0].OrderID)
	assert.Equal(t, 1, pending[0].PublishAttempts)
}

func TestPublishPending_TransactionError(t *testing.T) {
	f := newFixture(t)
	txErr := errors.New("begin tx: pool closed")
	f.svc.txManager = &testutil.MockTransactionManager{
		WithTransactionFunc: func(context.Context, func(context.Context) error) error { return txErr },
	}

	n, err := f.svc.PublishPending(context.Background(), 10)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, txErr)
}

func TestReconcileEvent(t *testing.T) {
	f := newFixture(t, WithClock(func() time.Time { return fixedNow }))
	e := testutil.NewTestEvent("order_1", gateway.EventPaymentSuccess)
	f.events.Add(e)

	f.gw.EXPECT().GetOrderDetails(gomock.Any(), "order_1").
		Return(&gateway.OrderDetails{ID: "order_1", Status: gateway.OrderStatusPaid}, nil)

	got, err := f.svc.ReconcileEvent(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, gateway.OrderStatusPaid, got.OrderStatus)
	assert.Equal(t, fixedNow, *got.ReconciledAt)

	// Second call is answered from the ledger.
	again, err := f.svc.ReconcileEvent(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, again.IsReconciled())
}

func TestReconcileEvent_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	e := testutil.NewTestEvent("order_1", gateway.EventPaymentSuccess)
	f.events.Add(e)

	f.gw.EXPECT().GetOrderDetails(gomock.Any(), "order_1").
		Return(nil, &gateway.ProviderError{Op: "get order details", StatusCode: 503})

	_, err := f.svc.ReconcileEvent(context.Background(), e.ID)
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)

	stored, err := f.events.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsReconciled())
}

func TestReconcileEvent_UnknownEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ReconcileEvent(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrEventNotFound)
}
