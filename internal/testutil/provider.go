package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Provider routes that can be forced to fail.
const (
	RouteCreateOrder = "create_order"
	RouteGetOrder    = "get_order"
	RouteGetPayment  = "get_payment"
	RouteRefund      = "refund"
)

const (
	FakeKeyID     = "key_test_fake"
	FakeKeySecret = "secret_test_fake"
)

// RecordedRequest is one call received by the fake provider.
type RecordedRequest struct {
	Route   string
	Method  string
	Path    string
	Header  http.Header
	Body    map[string]any
	Arrived time.Time
}

type forcedResponse struct {
	status int
	body   string
}

// FakeProvider is an in-memory payment provider served over httptest.
type FakeProvider struct {
	mu       sync.Mutex
	server   *httptest.Server
	keyID    string
	secret   string
	latency  time.Duration
	seq      int
	orders   map[string]map[string]any
	payments map[string]map[string]any
	refunds  map[string]map[string]any
	forced   map[string][]forcedResponse
	requests []RecordedRequest
}

// FakeProviderOption configures a FakeProvider.
type FakeProviderOption func(*FakeProvider)

// WithFakeCredentials sets the credentials the fake accepts.
func WithFakeCredentials(keyID, secret string) FakeProviderOption {
	return func(f *FakeProvider) {
		f.keyID = keyID
		f.secret = secret
	}
}

// WithFakeLatency delays every response.
func WithFakeLatency(d time.Duration) FakeProviderOption {
	return func(f *FakeProvider) { f.latency = d }
}

// NewFakeProvider starts the fake and closes it when the test ends.
func NewFakeProvider(t testing.TB, opts ...FakeProviderOption) *FakeProvider {
	t.Helper()

	f := &FakeProvider{
		keyID:    FakeKeyID,
		secret:   FakeKeySecret,
		orders:   make(map[string]map[string]any),
		payments: make(map[string]map[string]any),
		refunds:  make(map[string]map[string]any),
		forced:   make(map[string][]forcedResponse),
	}
	for _, o := range opts {
		o(f)
	}

	r := chi.NewRouter()
	r.Post("/orders", f.wrap(RouteCreateOrder, f.createOrder))
	r.Get("/orders/{orderID}", f.wrap(RouteGetOrder, f.getOrder))
	r.Get("/orders/{orderID}/payments/{paymentID}", f.wrap(RouteGetPayment, f.getPayment))
	r.Post("/orders/{orderID}/refunds", f.wrap(RouteRefund, f.createRefund))

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *FakeProvider) URL() string { return f.server.URL }

// Close stops the server early, e.g. to simulate a transport failure.
func (f *FakeProvider) Close() { f.server.Close() }

// FailNext makes the next call to route answer with status and raw body.
func (f *FakeProvider) FailNext(route string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced[route] = append(f.forced[route], forcedResponse{status: status, body: body})
}

// AddOrder stores an order directly, bypassing the API.
func (f *FakeProvider) AddOrder(id string, amount int64, currency, status, receipt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[id] = map[string]any{
		"id":          id,
		"amount":      amount,
		"amount_paid": 0,
		"amount_due":  amount,
		"currency":    currency,
		"status":      status,
		"receipt":     receipt,
		"attempts":    0,
		"created_at":  time.Now().Unix(),
	}
}

// AddPayment stores a payment under an existing or future order.
func (f *FakeProvider) AddPayment(orderID, paymentID string, amount int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[orderID+"/"+paymentID] = map[string]any{
		"id":         paymentID,
		"order_id":   orderID,
		"amount":     amount,
		"currency":   "INR",
		"status":     status,
		"method":     "upi",
		"created_at": time.Now().Unix(),
	}
}

// Requests returns a copy of every call received so far.
func (f *FakeProvider) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls counts requests received on route.
func (f *FakeProvider) Calls(route string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Route == route {
			n++
		}
	}
	return n
}

func (f *FakeProvider) wrap(route string, next func(http.ResponseWriter, *http.Request, map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{
			Route:   route,
			Method:  r.Method,
			Path:    r.URL.Path,
			Header:  r.Header.Clone(),
			Body:    body,
			Arrived: time.Now(),
		})
		var forced *forcedResponse
		if queue := f.forced[route]; len(queue) > 0 {
			forced = &queue[0]
			f.forced[route] = queue[1:]
		}
		latency := f.latency
		f.mu.Unlock()

		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}

		if forced != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(forced.status)
			_, _ = w.Write([]byte(forced.body))
			return
		}

		if r.Header.Get("x-client-id") != f.keyID || r.Header.Get("x-client-secret") != f.secret {
			writeFakeJSON(w, http.StatusUnauthorized, map[string]any{"message": "authentication failed", "code": "auth_failed"})
			return
		}

		next(w, r, body)
	}
}

func (f *FakeProvider) createOrder(w http.ResponseWriter, r *http.Request, body map[string]any) {
	amount, _ := body["amount"].(float64)
	currency, _ := body["currency"].(string)
	receipt, _ := body["receipt"].(string)

	f.mu.Lock()
	f.seq++
	id := fmt.Sprintf("order_%d", f.seq)
	order := map[string]any{
		"id":          id,
		"amount":      int64(amount),
		"amount_paid": 0,
		"amount_due":  int64(amount),
		"currency":    currency,
		"status":      "created",
		"receipt":     receipt,
		"attempts":    0,
		"created_at":  time.Now().Unix(),
	}
	if notes, ok := body["notes"]; ok {
		order["notes"] = notes
	}
	f.orders[id] = order
	f.mu.Unlock()

	writeFakeJSON(w, http.StatusOK, order)
}

func (f *FakeProvider) getOrder(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	f.mu.Lock()
	order, ok := f.orders[chi.URLParam(r, "orderID")]
	f.mu.Unlock()

	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "order not found", "code": "order_not_found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, order)
}

func (f *FakeProvider) getPayment(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	key := chi.URLParam(r, "orderID") + "/" + chi.URLParam(r, "paymentID")

	f.mu.Lock()
	p, ok := f.payments[key]
	f.mu.Unlock()

	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "payment not found", "code": "payment_not_found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, p)
}

func (f *FakeProvider) createRefund(w http.ResponseWriter, r *http.Request, body map[string]any) {
	orderID := chi.URLParam(r, "orderID")
	amount, _ := body["refund_amount"].(float64)
	refundID, _ := body["refund_id"].(string)
	note, _ := body["refund_note"].(string)

	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "order not found", "code": "order_not_found"})
		return
	}
	orderAmount, _ := order["amount"].(int64)
	if amount <= 0 || int64(amount) > orderAmount || refundID == "" {
		writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid refund", "code": "refund_invalid"})
		return
	}
	if _, dup := f.refunds[refundID]; dup {
		writeFakeJSON(w, http.StatusConflict, map[string]any{"message": "refund id already used", "code": "refund_duplicate"})
		return
	}

	refund := map[string]any{
		"refund_id":       refundID,
		"order_id":        orderID,
		"refund_amount":   int64(amount),
		"refund_currency": order["currency"],
		"refund_status":   "PENDING",
		"refund_note":     note,
	}
	f.refunds[refundID] = refund
	writeFakeJSON(w, http.StatusOK, refund)
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
