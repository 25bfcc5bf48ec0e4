package handler

import (
	"context"

	appcart "github.com/bgl/storefront/internal/application/cart"
	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// CartSessions hands out the cart session of an identity. guestID is the
// client's guest session, adopted on login when enabled.
type CartSessions interface {
	Session(ctx context.Context, id *shared.Identity, token, guestID string) (*appcart.Session, error)
}

// CartHandler handles the cart endpoints
type CartHandler struct {
	BaseHandler
	sessions CartSessions
}

// NewCartHandler creates a new CartHandler
func NewCartHandler(sessions CartSessions) *CartHandler {
	return &CartHandler{sessions: sessions}
}

// AddItemRequest adds a line. Without unit_price the current catalog price
// is used.
type AddItemRequest struct {
	ProductID   string           `json:"product_id" binding:"required,max=128"`
	ProductName string           `json:"product_name" binding:"max=256"`
	Variant     string           `json:"size" binding:"max=64"`
	Quantity    int              `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
}

// UpdateItemRequest sets a line's quantity; zero removes the line
type UpdateItemRequest struct {
	ProductID string `json:"product_id" binding:"required,max=128"`
	Variant   string `json:"size" binding:"max=64"`
	Quantity  int    `json:"quantity"`
}

// RemoveItemQuery selects the line to drop
type RemoveItemQuery struct {
	ProductID string `form:"product_id" binding:"required"`
	Variant   string `form:"size"`
}

// CartResponse is the cart as shown to the UI
type CartResponse struct {
	Items       []cart.LineItem `json:"items"`
	TotalItems  int             `json:"total_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	SyncState   string          `json:"sync_state"`
}

func newCartResponse(s cart.Snapshot, state appcart.SyncState) CartResponse {
	return CartResponse{
		Items:       s.Items(),
		TotalItems:  s.TotalItems(),
		TotalAmount: s.TotalAmount(),
		SyncState:   state.String(),
	}
}

// session resolves the caller's session or answers the error itself
func (h *CartHandler) session(c *gin.Context) (*appcart.Session, bool) {
	s, err := h.sessions.Session(c.Request.Context(), middleware.GetIdentity(c),
		middleware.GetBearerToken(c), middleware.GetGuestID(c))
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	return s, true
}

// GetCart returns the caller's cart
func (h *CartHandler) GetCart(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.Success(c, newCartResponse(s.Snapshot(), s.State()))
}

// AddItem adds a line or merges it into the matching one
func (h *CartHandler) AddItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var (
		snap cart.Snapshot
		err  error
	)
	if req.UnitPrice != nil {
		snap, err = s.AddItem(ctx, cart.LineItem{
			ProductID:   req.ProductID,
			ProductName: req.ProductName,
			Variant:     req.Variant,
			Quantity:    req.Quantity,
			UnitPrice:   *req.UnitPrice,
		})
	} else {
		snap, err = s.AddProduct(ctx, req.ProductID, req.Variant, req.Quantity)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, newCartResponse(snap, s.State()))
}

// UpdateItem sets the quantity of a line
func (h *CartHandler) UpdateItem(c *gin.Context) {
	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap, err := s.UpdateQuantity(c.Request.Context(), req.ProductID, req.Variant, req.Quantity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, newCartResponse(snap, s.State()))
}

// RemoveItem drops a line
func (h *CartHandler) RemoveItem(c *gin.Context) {
	var q RemoveItemQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap, err := s.RemoveItem(c.Request.Context(), q.ProductID, q.Variant)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, newCartResponse(snap, s.State()))
}

// ClearCart empties the cart
func (h *CartHandler) ClearCart(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Clear(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, newCartResponse(s.Snapshot(), s.State()))
}
