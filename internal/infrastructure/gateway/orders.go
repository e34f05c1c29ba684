package gateway

import (
	"context"
	"net/http"
	"net/url"
)

// CreateOrder registers an order with the provider and returns the
// provider-assigned id with the echoed amount, currency, status and receipt.
// The request is not validated locally and never retried.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	c.logger.Info().Int64("amount", req.Amount).Str("receipt", req.Receipt).Msg("creating provider order")

	var resp OrderResponse
	if _, err := c.do(ctx, opCreateOrder, http.MethodPost, "/orders", req, &resp); err != nil {
		return nil, err
	}

	c.logger.Info().Str("order_id", resp.ID).Str("status", resp.Status).Msg("provider order created")
	return &resp, nil
}

func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (*OrderDetails, error) {
	var details OrderDetails
	raw, err := c.read(ctx, opGetOrder, "/orders/"+url.PathEscape(orderID), &details)
	if err != nil {
		return nil, err
	}
	details.Raw = raw
	return &details, nil
}

func (c *Client) GetPaymentDetails(ctx context.Context, orderID, paymentID string) (*PaymentDetails, error) {
	var details PaymentDetails
	path := "/orders/" + url.PathEscape(orderID) + "/payments/" + url.PathEscape(paymentID)
	raw, err := c.read(ctx, opGetPayment, path, &details)
	if err != nil {
		return nil, err
	}
	details.Raw = raw
	return &details, nil
}

// RefundPayment submits a refund with the fixed RefundNote. Refunds are
// never retried; RefundID lets the provider reject duplicates.
func (c *Client) RefundPayment(ctx context.Context, orderID string, amount int64, refundID string) (*Refund, error) {
	c.logger.Info().Str("order_id", orderID).Int64("amount", amount).Str("refund_id", refundID).Msg("submitting refund")

	body := refundBody{
		RefundAmount: amount,
		RefundID:     refundID,
		RefundNote:   RefundNote,
	}

	var refund Refund
	raw, err := c.do(ctx, opRefund, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/refunds", body, &refund)
	if err != nil {
		return nil, err
	}
	refund.Raw = raw

	c.logger.Info().Str("order_id", orderID).Str("refund_id", refund.RefundID).Str("status", refund.Status).Msg("refund submitted")
	return &refund, nil
}
