package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	"github.com/hotelbooker/bookingpay/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

// Config carries everything the client needs. Nothing is read from the
// environment here.
type Config struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	APIVersion string

	WebhookSecret    string
	WebhookTolerance time.Duration

	Timeout                 time.Duration
	ReadAttempts            uint
	RetryDelay              time.Duration
	CircuitBreakerThreshold uint32
	CircuitBreakerTimeout   time.Duration
}

// Client talks to the payment provider's REST API. It is safe for
// concurrent use.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	verifier   *WebhookVerifier
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default otel-instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock overrides the time source used for webhook timestamp checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient validates the credentials and builds a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	var missing []string
	if cfg.KeyID == "" {
		missing = append(missing, "key id")
	}
	if cfg.KeySecret == "" {
		missing = append(missing, "key secret")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "base url")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", domainErrors.ErrMissingCredentials, strings.Join(missing, ", "))
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadAttempts == 0 {
		cfg.ReadAttempts = 1
	}
	if cfg.CircuitBreakerThreshold == 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 30 * time.Second
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}

	c.verifier = NewWebhookVerifier(cfg.WebhookSecret, cfg.WebhookTolerance, c.now)
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitBreakerThreshold
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			if c.metrics != nil {
				c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})

	return c, nil
}

type operation struct {
	name   string // metric label
	action string // used in generic error messages
}

var (
	opCreateOrder = operation{"create_order", "create order"}
	opGetOrder    = operation{"get_order", "get order details"}
	opGetPayment  = operation{"get_payment", "get payment details"}
	opRefund      = operation{"refund_payment", "process refund"}
)

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", c.cfg.KeyID)
	req.Header.Set("x-client-secret", c.cfg.KeySecret)
	if c.cfg.APIVersion != "" {
		req.Header.Set("x-api-version", c.cfg.APIVersion)
	}
}

// do sends one request through the breaker and decodes a 2xx body into out.
// Failures are logged here and returned to the caller unchanged.
func (c *Client) do(ctx context.Context, op operation, method, path string, payload any, out any) (json.RawMessage, error) {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, op, method, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%s: %w: %w", op.action, domainErrors.ErrProviderUnavailable, err)
	}
	if err == nil && out != nil {
		if decodeErr := json.Unmarshal(body, out); decodeErr != nil {
			err = fmt.Errorf("%w: %s: %w", errDecode, op.name, decodeErr)
		}
	}
	c.observe(op, start, err)

	if err != nil {
		evt := c.logger.Error().Err(err).Str("operation", op.name).Str("path", path)
		var pe *ProviderError
		if errors.As(err, &pe) {
			evt = evt.Int("status", pe.StatusCode).Str("provider_code", pe.Code)
		}
		evt.Msg("payment provider call failed")
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, op operation, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op.name, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op.name, err)
	}
	c.headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op.action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newProviderError(op.action, resp.StatusCode, data)
	}
	return data, nil
}

// read is do for GET endpoints, retried per Config.ReadAttempts.
func (c *Client) read(ctx context.Context, op operation, path string, out any) (json.RawMessage, error) {
	return retry.DoWithResult(ctx, retry.Config{
		MaxAttempts:  c.cfg.ReadAttempts,
		InitialDelay: c.cfg.RetryDelay,
		MaxDelay:     10 * c.cfg.RetryDelay,
		RetryIf: func(err error) bool {
			return ctx.Err() == nil && retryable(err)
		},
		OnRetry: func(n uint, err error) {
			c.logger.Warn().Err(err).Str("operation", op.name).Uint("attempt", n+1).Msg("retrying provider read")
			if c.metrics != nil {
				c.metrics.GatewayRetries.WithLabelValues(op.name).Inc()
			}
		},
	}, func() (json.RawMessage, error) {
		return c.do(ctx, op, http.MethodGet, path, nil, out)
	})
}

func (c *Client) observe(op operation, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.GatewayRequestsTotal.WithLabelValues(op.name, outcome(err)).Inc()
	c.metrics.GatewayRequestDuration.WithLabelValues(op.name).Observe(time.Since(start).Seconds())
}
