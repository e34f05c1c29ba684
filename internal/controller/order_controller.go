package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/gateway"
	"github.com/hotelbooker/bookingpay/internal/service"
)

// OrderController exposes provider orders, payments and refunds.
type OrderController struct {
	paymentService *service.PaymentService
}

func NewOrderController(paymentService *service.PaymentService) *OrderController {
	return &OrderController{paymentService: paymentService}
}

// CreateOrder handles POST /api/v1/orders
func (h *OrderController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	order, err := h.paymentService.CreateOrder(r.Context(), req.toGateway())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (h *OrderController) GetOrder(w http.ResponseWriter, r *http.Request) {
	details, err := h.paymentService.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// GetPayment handles GET /api/v1/orders/{orderID}/payments/{paymentID}
func (h *OrderController) GetPayment(w http.ResponseWriter, r *http.Request) {
	details, err := h.paymentService.GetPayment(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// Refund handles POST /api/v1/orders/{orderID}/refunds
func (h *OrderController) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	refund, err := h.paymentService.Refund(r.Context(), gateway.RefundRequest{
		OrderID:  chi.URLParam(r, "orderID"),
		Amount:   req.Amount,
		RefundID: req.RefundID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, refund)
}

// ListEvents handles GET /api/v1/orders/{orderID}/events
func (h *OrderController) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.paymentService.ListOrderEvents(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, FromEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}
