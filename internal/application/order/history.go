// Package order submits carts to the commerce backend and keeps each
// customer's order history.
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bgl/storefront/internal/domain/order"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/keystore"
	"github.com/bgl/storefront/internal/infrastructure/remote"
	"go.uber.org/zap"
)

// Remote is the part of the commerce backend orders are exchanged with
type Remote interface {
	CreateOrder(ctx context.Context, req remote.CreateOrderRequest, idempotencyKey string) (remote.CreateOrderResponse, error)
	ListOrders(ctx context.Context) ([]order.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error
	UpdatePaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus) error
}

// ErrForbidden is returned when a non-admin tries to change an order
var ErrForbidden = errors.New("order: admin role required")

// History is the per-identity list of accepted orders. The remote backend
// is authoritative for the orders it lists; orders known only locally are
// kept alongside them under orders_<identity> and served on their own when
// the remote cannot be reached.
type History struct {
	store  keystore.Store
	keys   keystore.Keys
	remote Remote
	logger *zap.Logger

	mu sync.Mutex
}

// NewHistory creates a History. remote may be nil for local-only mode.
func NewHistory(store keystore.Store, keys keystore.Keys, remote Remote, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{store: store, keys: keys, remote: remote, logger: logger}
}

// List returns id's orders, newest first
func (h *History) List(ctx context.Context, id *shared.Identity) ([]order.Order, error) {
	if id.IsGuest() {
		return nil, shared.ErrUnauthenticated
	}

	var remoteOrders []order.Order
	var remoteErr error = errNoRemote
	if h.remote != nil {
		remoteOrders, remoteErr = h.remote.ListOrders(ctx)
		if remoteErr != nil {
			h.logger.Warn("Remote order history unavailable, serving local copy",
				zap.String("identity", id.ID), zap.Error(remoteErr))
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	orders, err := h.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if remoteErr == nil {
		orders = mergeOrders(orders, remoteOrders)
		if werr := keystore.SetJSON(ctx, h.store, h.keys.Orders(id), orders); werr != nil {
			h.logger.Warn("Failed to write order history through to keystore", zap.Error(werr))
		}
	}
	sortNewestFirst(orders)
	return orders, nil
}

// Append records an accepted order in id's local history
func (h *History) Append(ctx context.Context, id *shared.Identity, o order.Order) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	orders, err := h.load(ctx, id)
	if err != nil {
		return err
	}
	orders = append(orders, o)
	if err := keystore.SetJSON(ctx, h.store, h.keys.Orders(id), orders); err != nil {
		return fmt.Errorf("append order %s: %w", o.ID, err)
	}
	if err := keystore.SetJSON(ctx, h.store, h.keys.OrderOwner(o.ID), shared.KeyOf(id)); err != nil {
		h.logger.Warn("Failed to record order owner", zap.String("order_id", o.ID), zap.Error(err))
	}
	return nil
}

// UpdateStatus moves an order to status. actor must be an admin. When the
// order is known locally the transition is checked before the remote is
// called, and the local copy changes only once the remote accepts.
func (h *History) UpdateStatus(ctx context.Context, actor *shared.Identity, orderID string, status order.Status) error {
	if !status.IsValid() {
		return shared.NewDomainError(order.ErrInvalidStatus.Code, fmt.Sprintf("Unknown order status %q", status))
	}
	return h.update(ctx, actor, orderID,
		func(o *order.Order) error { return o.TransitionTo(status) },
		func(r Remote) error { return r.UpdateOrderStatus(ctx, orderID, status) },
	)
}

// UpdatePaymentStatus marks an order paid or unpaid. actor must be an admin.
func (h *History) UpdatePaymentStatus(ctx context.Context, actor *shared.Identity, orderID string, status order.PaymentStatus) error {
	if !status.IsValid() {
		return shared.NewDomainError(order.ErrInvalidStatus.Code, fmt.Sprintf("Unknown payment status %q", status))
	}
	return h.update(ctx, actor, orderID,
		func(o *order.Order) error { return o.SetPaymentStatus(status) },
		func(r Remote) error { return r.UpdatePaymentStatus(ctx, orderID, status) },
	)
}

// update applies a change to the copy held by the order's owner, falling
// back to the actor's own history for orders placed elsewhere
func (h *History) update(ctx context.Context, actor *shared.Identity, orderID string, apply func(*order.Order) error, push func(Remote) error) error {
	if actor.IsGuest() {
		return shared.ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return ErrForbidden
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	holders := []*shared.Identity{actor}
	if owner := h.owner(ctx, orderID); owner != nil && !owner.Equal(actor) {
		holders = append(holders, owner)
	}

	type change struct {
		holder *shared.Identity
		orders []order.Order
	}
	var changes []change
	for _, holder := range holders {
		orders, err := h.load(ctx, holder)
		if err != nil {
			return err
		}
		idx := indexOf(orders, orderID)
		if idx < 0 {
			continue
		}
		candidate := orders[idx]
		if err := apply(&candidate); err != nil {
			return err
		}
		orders[idx] = candidate
		changes = append(changes, change{holder: holder, orders: orders})
	}

	if h.remote == nil {
		return fmt.Errorf("update order %s: %w", orderID, remote.ErrUnavailable)
	}
	if err := push(h.remote); err != nil {
		return err
	}

	for _, ch := range changes {
		if err := keystore.SetJSON(ctx, h.store, h.keys.Orders(ch.holder), ch.orders); err != nil {
			h.logger.Warn("Failed to record order update locally",
				zap.String("order_id", orderID), zap.String("identity", shared.KeyOf(ch.holder)), zap.Error(err))
		}
	}
	return nil
}

// owner returns the identity whose history an order was appended to, or nil
func (h *History) owner(ctx context.Context, orderID string) *shared.Identity {
	var key string
	if err := keystore.GetJSON(ctx, h.store, h.keys.OrderOwner(orderID), &key); err != nil {
		if !errors.Is(err, keystore.ErrNotFound) {
			h.logger.Warn("Unreadable order owner", zap.String("order_id", orderID), zap.Error(err))
		}
		return nil
	}
	if key == "" || shared.IsReservedID(key) {
		return nil
	}
	return &shared.Identity{ID: key}
}

// load reads the local history. Callers hold h.mu.
func (h *History) load(ctx context.Context, id *shared.Identity) ([]order.Order, error) {
	var orders []order.Order
	err := keystore.GetJSON(ctx, h.store, h.keys.Orders(id), &orders)
	switch {
	case err == nil:
		return orders, nil
	case errors.Is(err, keystore.ErrNotFound):
		return []order.Order{}, nil
	case errors.Is(err, keystore.ErrCorrupt):
		h.logger.Warn("Discarding unreadable order history", zap.String("identity", shared.KeyOf(id)), zap.Error(err))
		return []order.Order{}, nil
	default:
		return nil, fmt.Errorf("load order history: %w", err)
	}
}

var errNoRemote = errors.New("no remote configured")

// mergeOrders upserts remote orders into local ones by id, remote winning
func mergeOrders(local, remote []order.Order) []order.Order {
	out := make([]order.Order, 0, len(local)+len(remote))
	out = append(out, local...)
	for _, o := range remote {
		if i := indexOf(out, o.ID); i >= 0 {
			out[i] = o
			continue
		}
		out = append(out, o)
	}
	return out
}

func indexOf(orders []order.Order, id string) int {
	for i := range orders {
		if orders[i].ID == id {
			return i
		}
	}
	return -1
}

func sortNewestFirst(orders []order.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
