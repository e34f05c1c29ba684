package controller

import (
	"errors"
	"io"
	"net/http"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/service"
)

const maxWebhookBodySize = 1 << 20

type WebhookController struct {
	paymentService *service.PaymentService
}

func NewWebhookController(paymentService *service.PaymentService) *WebhookController {
	return &WebhookController{paymentService: paymentService}
}

// Receive handles POST /api/v1/webhooks/payments. The signature covers the
// exact bytes received, so the body is read raw and never re-encoded.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: "body_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "could not read body", Code: "invalid_body"})
		return
	}

	event, err := h.paymentService.HandleWebhook(r.Context(), body, r.Header)
	if errors.Is(err, domainErrors.ErrDuplicateDelivery) {
		// Acknowledge so the provider stops redelivering.
		writeJSON(w, http.StatusOK, WebhookAckResponse{Status: "duplicate"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookAckResponse{Status: "accepted", EventID: event.ID.String()})
}
