package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bgl/storefront/internal/domain/cart"
)

// cartPayload accepts either a bare array of lines or {"items": [...]}
type cartPayload struct {
	items []cart.LineItem
}

func (p *cartPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Items []cart.LineItem `json:"items"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		p.items = wrapped.Items
		return nil
	}
	return json.Unmarshal(data, &p.items)
}

// GetCart fetches the caller's cart (GET /cart)
func (c *Client) GetCart(ctx context.Context) (cart.Snapshot, error) {
	var payload cartPayload
	if err := c.do(ctx, request{method: http.MethodGet, path: "/cart"}, &payload); err != nil {
		return cart.Empty(), err
	}
	return cart.FromItems(payload.items), nil
}

// ReplaceCart overwrites the caller's cart with snapshot (POST /cart). The
// whole cart is sent every time, so a later call always supersedes an
// earlier one.
func (c *Client) ReplaceCart(ctx context.Context, snapshot cart.Snapshot) error {
	if err := c.do(ctx, request{method: http.MethodPost, path: "/cart", body: snapshot}, nil); err != nil {
		return fmt.Errorf("replace cart: %w", err)
	}
	return nil
}
