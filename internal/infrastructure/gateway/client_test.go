package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	"github.com/hotelbooker/bookingpay/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		KeyID:         testutil.FakeKeyID,
		KeySecret:     testutil.FakeKeySecret,
		APIVersion:    "2023-08-01",
		WebhookSecret: "whsec_test",
		Timeout:       2 * time.Second,
		RetryDelay:    time.Millisecond,
	}
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingCredentials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"key id", func(c *Config) { c.KeyID = "" }, "key id"},
		{"key secret", func(c *Config) { c.KeySecret = "" }, "key secret"},
		{"base url", func(c *Config) { c.BaseURL = "" }, "base url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost")
			tt.mutate(&cfg)

			c, err := NewClient(cfg)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, domainErrors.ErrMissingCredentials)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCreateOrder_EchoesRequest(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	client := newTestClient(t, testConfig(provider.URL()))

	resp, err := client.CreateOrder(context.Background(), OrderRequest{
		Amount:   10000,
		Currency: "INR",
		Receipt:  "R123",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_1", resp.ID)
	assert.Equal(t, OrderStatusCreated, resp.Status)
	assert.Equal(t, int64(10000), resp.Amount)
	assert.Equal(t, "INR", resp.Currency)
	assert.Equal(t, "R123", resp.Receipt)
}

func TestCreateOrder_ForwardsNotesAndAuthHeaders(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	client := newTestClient(t, testConfig(provider.URL()))

	_, err := client.CreateOrder(context.Background(), OrderRequest{
		Amount:   25000,
		Currency: "INR",
		Receipt:  "booking-42",
		Notes: &OrderNotes{
			CustomerName:  "A. Guest",
			CustomerEmail: "guest@example.com",
			CustomerPhone: "+910000000000",
			BookingID:     "42",
		},
	})
	require.NoError(t, err)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	got := reqs[0]
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/orders", got.Path)
	assert.Equal(t, testutil.FakeKeyID, got.Header.Get("x-client-id"))
	assert.Equal(t, testutil.FakeKeySecret, got.Header.Get("x-client-secret"))
	assert.Equal(t, "2023-08-01", got.Header.Get("x-api-version"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))

	notes, ok := got.Body["notes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "A. Guest", notes["customer_name"])
	assert.Equal(t, "42", notes["booking_id"])
}

func TestCreateOrder_ProviderErrorPropagates(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	client := newTestClient(t, testConfig(provider.URL()))
	provider.FailNext(testutil.RouteCreateOrder, http.StatusBadRequest, `{"message":"amount must be positive"}`)

	resp, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 0, Currency: "INR", Receipt: "R1"})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, "amount must be positive", err.Error())
	assert.ErrorIs(t, err, domainErrors.ErrProviderRejected)
}

func TestCreateOrder_WrongCredentials(t *testing.T) {
	provider := testutil.NewFakeProvider(t, testutil.WithFakeCredentials("key_rotated", "secret_rotated"))
	client := newTestClient(t, testConfig(provider.URL()))

	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR", Receipt: "R1"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Equal(t, "auth_failed", pe.Code)
}

func TestGetOrderDetails_Success(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	provider.AddOrder("order_9", 5000, "INR", OrderStatusPaid, "R9")
	client := newTestClient(t, testConfig(provider.URL()))

	details, err := client.GetOrderDetails(context.Background(), "order_9")
	require.NoError(t, err)
	assert.Equal(t, "order_9", details.ID)
	assert.Equal(t, OrderStatusPaid, details.Status)
	assert.Equal(t, int64(5000), details.Amount)
	assert.Contains(t, string(details.Raw), `"receipt":"R9"`)
}

func TestGetOrderDetails_ProviderMessage(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	client := newTestClient(t, testConfig(provider.URL()))

	_, err := client.GetOrderDetails(context.Background(), "order_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order not found")

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
}

func TestNonSuccessWithoutMessage_UsesGenericHTTPError(t *testing.T) {
	tests := []struct {
		name  string
		route string
		call  func(*Client) error
		want  string
	}{
		{
			name:  "get order",
			route: testutil.RouteGetOrder,
			call: func(c *Client) error {
				_, err := c.GetOrderDetails(context.Background(), "order_1")
				return err
			},
			want: "HTTP 502: Failed to get order details",
		},
		{
			name:  "get payment",
			route: testutil.RouteGetPayment,
			call: func(c *Client) error {
				_, err := c.GetPaymentDetails(context.Background(), "order_1", "pay_1")
				return err
			},
			want: "HTTP 502: Failed to get payment details",
		},
		{
			name:  "refund",
			route: testutil.RouteRefund,
			call: func(c *Client) error {
				_, err := c.RefundPayment(context.Background(), "order_1", 100, "ref_1")
				return err
			},
			want: "HTTP 502: Failed to process refund",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := testutil.NewFakeProvider(t)
			client := newTestClient(t, testConfig(provider.URL()))
			provider.FailNext(tt.route, http.StatusBadGateway, "<html>bad gateway</html>")

			err := tt.call(client)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
		})
	}
}

func TestGetPaymentDetails(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	provider.AddPayment("order_1", "pay_1", 10000, "captured")
	client := newTestClient(t, testConfig(provider.URL()))

	details, err := client.GetPaymentDetails(context.Background(), "order_1", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "pay_1", details.ID)
	assert.Equal(t, "order_1", details.OrderID)
	assert.Equal(t, "captured", details.Status)

	_, err = client.GetPaymentDetails(context.Background(), "order_1", "pay_2")
	assert.ErrorContains(t, err, "payment not found")
}

func TestRefundPayment_Success(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	provider.AddOrder("order_1", 10000, "INR", OrderStatusPaid, "R123")
	client := newTestClient(t, testConfig(provider.URL()))

	refund, err := client.RefundPayment(context.Background(), "order_1", 5000, "ref_1")
	require.NoError(t, err)
	assert.Equal(t, "ref_1", refund.RefundID)
	assert.Equal(t, int64(5000), refund.Amount)
	assert.Equal(t, RefundNote, refund.Note)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/orders/order_1/refunds", reqs[0].Path)
	assert.Equal(t, float64(5000), reqs[0].Body["refund_amount"])
	assert.Equal(t, "ref_1", reqs[0].Body["refund_id"])
	assert.Equal(t, "Refund requested by hotel management", reqs[0].Body["refund_note"])
}

func TestRefundPayment_ProviderRejects(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	provider.AddOrder("order_1", 10000, "INR", OrderStatusPaid, "R123")
	client := newTestClient(t, testConfig(provider.URL()))
	provider.FailNext(testutil.RouteRefund, http.StatusBadRequest, `{"message":"invalid refund"}`)

	refund, err := client.RefundPayment(context.Background(), "order_1", 5000, "ref_1")
	assert.Nil(t, refund)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid refund")
}

func TestRefundPayment_NeverRetried(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	provider.AddOrder("order_1", 10000, "INR", OrderStatusPaid, "R123")
	cfg := testConfig(provider.URL())
	cfg.ReadAttempts = 3
	client := newTestClient(t, cfg)
	provider.FailNext(testutil.RouteRefund, http.StatusServiceUnavailable, "")

	_, err := client.RefundPayment(context.Background(), "order_1", 5000, "ref_1")
	require.Error(t, err)
	assert.Equal(t, 1, provider.Calls(testutil.RouteRefund))
}

func TestGetOrderDetails_RetriesServerErrors(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	provider.AddOrder("order_1", 10000, "INR", OrderStatusCreated, "R123")
	cfg := testConfig(provider.URL())
	cfg.ReadAttempts = 3
	client := newTestClient(t, cfg)
	provider.FailNext(testutil.RouteGetOrder, http.StatusServiceUnavailable, "")
	provider.FailNext(testutil.RouteGetOrder, http.StatusServiceUnavailable, "")

	details, err := client.GetOrderDetails(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", details.ID)
	assert.Equal(t, 3, provider.Calls(testutil.RouteGetOrder))
}

func TestGetOrderDetails_DoesNotRetryRejections(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	cfg := testConfig(provider.URL())
	cfg.ReadAttempts = 3
	client := newTestClient(t, cfg)

	_, err := client.GetOrderDetails(context.Background(), "order_missing")
	require.Error(t, err)
	assert.Equal(t, 1, provider.Calls(testutil.RouteGetOrder))
}

func TestDefaultReadAttempts_NoRetry(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	client := newTestClient(t, testConfig(provider.URL()))
	provider.FailNext(testutil.RouteGetOrder, http.StatusServiceUnavailable, "")

	_, err := client.GetOrderDetails(context.Background(), "order_1")
	require.Error(t, err)
	assert.Equal(t, 1, provider.Calls(testutil.RouteGetOrder))
}

func TestTransportErrorPropagates(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	client := newTestClient(t, testConfig(provider.URL()))
	provider.Close()

	_, err := client.GetOrderDetails(context.Background(), "order_1")
	require.Error(t, err)

	var urlErr *url.Error
	assert.True(t, errors.As(err, &urlErr), "expected transport error, got %T", err)
	var pe *ProviderError
	assert.False(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	assert.NotErrorIs(t, err, domainErrors.ErrProviderTimeout)
}

func TestRequestTimeout(t *testing.T) {
	provider := testutil.NewFakeProvider(t, testutil.WithFakeLatency(500*time.Millisecond))
	cfg := testConfig(provider.URL())
	cfg.Timeout = 20 * time.Millisecond
	client := newTestClient(t, cfg)

	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR", Receipt: "R1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)
	var urlErr *url.Error
	assert.ErrorAs(t, err, &urlErr)
}

func TestTransportErrorOutcomeMetric(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	client := newTestClient(t, testConfig(provider.URL()), WithMetrics(metrics))
	provider.Close()

	_, err := client.GetOrderDetails(context.Background(), "order_1")
	require.Error(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.GatewayRequestsTotal.WithLabelValues("get_order", "unavailable")))
}

func TestCallerCancellationIsNotAnOutage(t *testing.T) {
	provider := testutil.NewFakeProvider(t, testutil.WithFakeLatency(time.Second))
	client := newTestClient(t, testConfig(provider.URL()))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.GetOrderDetails(ctx, "order_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestCircuitBreaker_OpensOnServerErrors(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	cfg := testConfig(provider.URL())
	cfg.CircuitBreakerThreshold = 2
	cfg.CircuitBreakerTimeout = time.Minute
	client := newTestClient(t, cfg)
	provider.FailNext(testutil.RouteGetOrder, http.StatusInternalServerError, "")
	provider.FailNext(testutil.RouteGetOrder, http.StatusInternalServerError, "")

	for i := 0; i < 2; i++ {
		_, err := client.GetOrderDetails(context.Background(), "order_1")
		require.Error(t, err)
	}

	_, err := client.GetOrderDetails(context.Background(), "order_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	assert.Equal(t, 2, provider.Calls(testutil.RouteGetOrder))
}

func TestCircuitBreaker_IgnoresRejections(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	cfg := testConfig(provider.URL())
	cfg.CircuitBreakerThreshold = 1
	client := newTestClient(t, cfg)

	for i := 0; i < 3; i++ {
		_, err := client.GetOrderDetails(context.Background(), "order_missing")
		assert.ErrorIs(t, err, domainErrors.ErrProviderRejected)
	}
	assert.Equal(t, 3, provider.Calls(testutil.RouteGetOrder))
}

func TestMetricsRecorded(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	client := newTestClient(t, testConfig(provider.URL()), WithMetrics(metrics))

	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR", Receipt: "R1"})
	require.NoError(t, err)
	_, err = client.GetOrderDetails(context.Background(), "order_missing")
	require.Error(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.GatewayRequestsTotal.WithLabelValues("create_order", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.GatewayRequestsTotal.WithLabelValues("get_order", "rejected")))
}

func TestPathEscaping(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	client := newTestClient(t, testConfig(provider.URL()))

	_, _ = client.GetOrderDetails(context.Background(), "order/../admin")

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, testutil.RouteGetOrder, reqs[0].Route)
	assert.Equal(t, "/orders/order/../admin", reqs[0].Path)
}

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

func TestWithHTTPClient(t *testing.T) {
	provider := testutil.NewFakeProvider(t)
	provider.AddOrder("order_1", 100, "INR", OrderStatusCreated, "R1")
	transport := &countingTransport{next: http.DefaultTransport}
	client := newTestClient(t, testConfig(provider.URL()), WithHTTPClient(&http.Client{Transport: transport}))

	_, err := client.GetOrderDetails(context.Background(), "order_1")

	require.NoError(t, err)
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestWithClock_DrivesWebhookTolerance(t *testing.T) {
	sentAt := time.Unix(1700000000, 0)
	cfg := testConfig("http://localhost")
	cfg.WebhookTolerance = time.Minute
	headers := signedHeaders(testWebhookSecret, strconv.FormatInt(sentAt.Unix(), 10), testPayload)

	fresh := newTestClient(t, cfg, WithClock(func() time.Time { return sentAt.Add(30 * time.Second) }))
	late := newTestClient(t, cfg, WithClock(func() time.Time { return sentAt.Add(2 * time.Minute) }))

	assert.True(t, fresh.VerifyWebhookSignature(testPayload, headers))
	assert.False(t, late.VerifyWebhookSignature(testPayload, headers))
}
