package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/order"
	"github.com/shopspring/decimal"
)

// CreateOrderRequest is the body of POST /orders
type CreateOrderRequest struct {
	ClientName  string          `json:"client_name"`
	ClientEmail string          `json:"client_email"`
	Items       []cart.LineItem `json:"items"`
	Total       decimal.Decimal `json:"total"`
}

// OrderID is an order identifier the backend may send as a JSON number or
// a JSON string.
type OrderID string

// UnmarshalJSON implements json.Unmarshaler
func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("order_id: %w", err)
		}
		*id = OrderID(n.String())
	}
	return nil
}

// CreateOrderResponse is the body returned by POST /orders
type CreateOrderResponse struct {
	Success bool    `json:"success"`
	OrderID OrderID `json:"order_id"`
	Message string  `json:"message,omitempty"`
}

// CreateOrder submits an order once. idempotencyKey is forwarded so a
// backend that supports it can drop replays.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest, idempotencyKey string) (CreateOrderResponse, error) {
	var resp CreateOrderResponse
	err := c.do(ctx, request{
		method:         http.MethodPost,
		path:           "/orders",
		body:           req,
		idempotencyKey: idempotencyKey,
	}, &resp)
	if err != nil {
		return CreateOrderResponse{}, fmt.Errorf("create order: %w", err)
	}
	return resp, nil
}

// orderPayload decodes an order whose id may be numeric
type orderPayload struct {
	order.Order
	ID OrderID `json:"id"`
}

// ListOrders fetches the caller's order history (GET /orders)
func (c *Client) ListOrders(ctx context.Context) ([]order.Order, error) {
	var payload []orderPayload
	if err := c.do(ctx, request{method: http.MethodGet, path: "/orders"}, &payload); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]order.Order, 0, len(payload))
	for _, p := range payload {
		o := p.Order
		o.ID = string(p.ID)
		orders = append(orders, o)
	}
	return orders, nil
}

// UpdateOrderStatus sets an order's fulfilment status (PUT /orders/{id}/status)
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error {
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/orders/" + url.PathEscape(orderID) + "/status",
		body:   map[string]string{"status": string(status)},
	}, nil)
	if err != nil {
		return fmt.Errorf("update order %s status: %w", orderID, err)
	}
	return nil
}

// UpdatePaymentStatus sets an order's payment status (PUT /orders/{id}/payment)
func (c *Client) UpdatePaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus) error {
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/orders/" + url.PathEscape(orderID) + "/payment",
		body:   map[string]string{"paymentStatus": string(status)},
	}, nil)
	if err != nil {
		return fmt.Errorf("update order %s payment: %w", orderID, err)
	}
	return nil
}
