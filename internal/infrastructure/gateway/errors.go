package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

var errDecode = errors.New("decode provider response")

// ProviderError is a non-success HTTP answer from the provider.
type ProviderError struct {
	Op         string
	StatusCode int
	Message    string
	Code       string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d: Failed to %s", e.StatusCode, e.Op)
}

func (e *ProviderError) Unwrap() error {
	if e.StatusCode >= http.StatusInternalServerError {
		return domainErrors.ErrProviderUnavailable
	}
	return domainErrors.ErrProviderRejected
}

func newProviderError(op string, status int, body []byte) *ProviderError {
	pe := &ProviderError{Op: op, StatusCode: status}

	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(body, &payload) == nil {
		pe.Message = payload.Message
		pe.Code = payload.Code
	}
	return pe
}

// transportError classifies a failed round trip as ErrProviderTimeout or
// ErrProviderUnavailable. The original error stays reachable through errors.As.
// Caller cancellation is left unclassified.
func transportError(action string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", action, err)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%s: %w: %w", action, domainErrors.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", action, domainErrors.ErrProviderUnavailable, err)
}

// countsAsFailure reports whether err should move the circuit breaker.
// Rejections and caller cancellations say nothing about provider health.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, errDecode) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode >= http.StatusInternalServerError
	}
	return true
}

func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode >= http.StatusInternalServerError || pe.StatusCode == http.StatusTooManyRequests
	}
	return countsAsFailure(err)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch {
	case errors.Is(err, domainErrors.ErrProviderRejected):
		return "rejected"
	case errors.Is(err, domainErrors.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, domainErrors.ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
