package handler

import (
	"context"
	"strings"
	"time"

	apporder "github.com/bgl/storefront/internal/application/order"
	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/order"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/logger"
	"github.com/bgl/storefront/internal/interfaces/http/dto"
	"github.com/bgl/storefront/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrderSubmitter places an order from a cart snapshot
type OrderSubmitter interface {
	Submit(ctx context.Context, identity *shared.Identity, snapshot cart.Snapshot, ledger apporder.LedgerClearer) (string, error)
}

// OrderHistory lists and updates accepted orders
type OrderHistory interface {
	List(ctx context.Context, id *shared.Identity) ([]order.Order, error)
	UpdateStatus(ctx context.Context, actor *shared.Identity, orderID string, status order.Status) error
	UpdatePaymentStatus(ctx context.Context, actor *shared.Identity, orderID string, status order.PaymentStatus) error
}

// OrderHandler handles checkout and order history
type OrderHandler struct {
	BaseHandler
	sessions    CartSessions
	submitter   OrderSubmitter
	history     OrderHistory
	idempotency shared.IdempotencyStore
	idemCfg     shared.IdempotencyConfig
}

// NewOrderHandler creates a new OrderHandler. idempotency may be nil, in
// which case the Idempotency-Key header is ignored.
func NewOrderHandler(
	sessions CartSessions,
	submitter OrderSubmitter,
	history OrderHistory,
	idempotency shared.IdempotencyStore,
	idemCfg shared.IdempotencyConfig,
) *OrderHandler {
	if idemCfg.TTL <= 0 {
		idemCfg.TTL = shared.DefaultIdempotencyConfig().TTL
	}
	return &OrderHandler{
		sessions:    sessions,
		submitter:   submitter,
		history:     history,
		idempotency: idempotency,
		idemCfg:     idemCfg,
	}
}

// CheckoutResponse carries the id of the accepted order
type CheckoutResponse struct {
	OrderID string `json:"order_id"`
}

// UpdateStatusRequest moves an order forward
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdatePaymentRequest records payment
type UpdatePaymentRequest struct {
	PaymentStatus string `json:"paymentStatus" binding:"required"`
}

// Checkout submits the caller's cart. On success the cart is cleared and
// 201 is returned; on failure the cart is kept (unless the clear failure
// policy is configured) and 502 is returned.
func (h *OrderHandler) Checkout(c *gin.Context) {
	id := middleware.GetIdentity(c)
	if id.IsGuest() {
		h.HandleError(c, shared.ErrUnauthenticated)
		return
	}

	s, err := h.sessions.Session(c.Request.Context(), id, middleware.GetBearerToken(c), middleware.GetGuestID(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	key, reserved, ok := h.reserve(c, id)
	if !ok {
		return
	}

	orderID, err := h.submitter.Submit(remoteContext(c), id, s.Snapshot(), s)
	if err != nil {
		if reserved {
			h.release(c, key)
		}
		h.HandleError(c, err)
		return
	}
	h.Created(c, CheckoutResponse{OrderID: orderID})
}

// reserve claims the request's Idempotency-Key. ok is false when the
// response has already been written.
func (h *OrderHandler) reserve(c *gin.Context, id *shared.Identity) (key string, reserved, ok bool) {
	header := strings.TrimSpace(c.GetHeader(middleware.IdempotencyKeyHeader))
	if header == "" || h.idempotency == nil || !h.idemCfg.Enabled {
		return "", false, true
	}
	key = "checkout:" + shared.KeyOf(id) + ":" + header

	reserved, err := h.idempotency.Reserve(c.Request.Context(), key, h.idemCfg.TTL)
	if err != nil {
		// Proceed without deduplication
		logger.L(c.Request.Context()).Warn("Idempotency check failed",
			zap.String("idempotency_key", header), zap.Error(err))
		return "", false, true
	}
	if !reserved {
		h.Conflict(c, dto.ErrCodeDuplicateRequest, "This checkout request was already received")
		return "", false, false
	}
	return key, true, true
}

func (h *OrderHandler) release(c *gin.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
	defer cancel()
	if err := h.idempotency.Release(ctx, key); err != nil {
		logger.L(ctx).Warn("Failed to release idempotency key", zap.Error(err))
	}
}

// ListOrders returns the caller's orders, newest first
func (h *OrderHandler) ListOrders(c *gin.Context) {
	orders, err := h.history.List(remoteContext(c), middleware.GetIdentity(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	h.Success(c, orders)
}

// UpdateStatus changes an order's fulfilment status (admin only)
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	err := h.history.UpdateStatus(remoteContext(c), middleware.GetIdentity(c), c.Param("id"), order.Status(req.Status))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// UpdatePaymentStatus changes an order's payment status (admin only)
func (h *OrderHandler) UpdatePaymentStatus(c *gin.Context) {
	var req UpdatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	err := h.history.UpdatePaymentStatus(remoteContext(c), middleware.GetIdentity(c), c.Param("id"), order.PaymentStatus(req.PaymentStatus))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
