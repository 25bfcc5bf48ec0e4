package cart

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/catalog"
	"github.com/bgl/storefront/internal/domain/shared"
	"go.uber.org/zap"
)

// view is what readers of a session see. It is replaced, never mutated.
type view struct {
	identity *shared.Identity
	snapshot cart.Snapshot
}

// SessionOptions configures a Session
type SessionOptions struct {
	// Prices resolves unit prices for AddProduct. Optional.
	Prices catalog.PriceResolver
	// AdoptGuestCart merges the guest cart into the customer cart when the
	// session switches from a guest to an authenticated identity
	AdoptGuestCart bool
	Logger         *zap.Logger
}

// Session owns the cart of one identity. Mutations and identity switches
// are serialised; Snapshot never blocks on them.
type Session struct {
	mu      sync.Mutex
	current atomic.Pointer[view]
	started bool

	lastUsed atomic.Int64

	mirror *RemoteMirror
	prices catalog.PriceResolver
	adopt  bool
	logger *zap.Logger
}

// NewSession creates a session for identity. Call Start before mutating.
func NewSession(identity *shared.Identity, mirror *RemoteMirror, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		mirror: mirror,
		prices: opts.Prices,
		adopt:  opts.AdoptGuestCart,
		logger: logger,
	}
	s.current.Store(&view{identity: identity, snapshot: cart.Empty()})
	s.touch()
	return s
}

// Start loads the cart. Calling it again is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	id := s.current.Load().identity
	snapshot, state := s.mirror.Load(ctx, id)
	s.current.Store(&view{identity: id, snapshot: snapshot})
	s.started = true
	s.logger.Debug("Cart session started",
		zap.String("identity", shared.KeyOf(id)),
		zap.Stringer("sync_state", state),
		zap.Int("lines", snapshot.Len()))
}

// Snapshot returns the current cart
func (s *Session) Snapshot() cart.Snapshot {
	s.touch()
	return s.current.Load().snapshot
}

// Identity returns the identity the session currently belongs to
func (s *Session) Identity() *shared.Identity {
	return s.current.Load().identity
}

// State returns the sync state of the cart
func (s *Session) State() SyncState {
	return s.mirror.State()
}

// AddItem adds item to the cart, merging it into an existing line with the
// same product and variant
func (s *Session) AddItem(ctx context.Context, item cart.LineItem) (cart.Snapshot, error) {
	return s.mutate(ctx, func(c cart.Snapshot) (cart.Snapshot, error) {
		return c.AddItem(item)
	})
}

// AddProduct adds quantity units of a catalog product at its current price
func (s *Session) AddProduct(ctx context.Context, productID, variant string, quantity int) (cart.Snapshot, error) {
	if s.prices == nil {
		return s.Snapshot(), fmt.Errorf("add product %s: no price resolver configured", productID)
	}
	product, err := s.prices.Resolve(ctx, productID)
	if err != nil {
		return s.Snapshot(), fmt.Errorf("add product %s: %w", productID, err)
	}
	return s.AddItem(ctx, cart.LineItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Variant:     variant,
		Quantity:    quantity,
		UnitPrice:   product.PriceFor(variant),
	})
}

// UpdateQuantity sets a line's quantity; zero or less removes it
func (s *Session) UpdateQuantity(ctx context.Context, productID, variant string, quantity int) (cart.Snapshot, error) {
	return s.mutate(ctx, func(c cart.Snapshot) (cart.Snapshot, error) {
		return c.UpdateQuantity(productID, variant, quantity), nil
	})
}

// RemoveItem drops a line
func (s *Session) RemoveItem(ctx context.Context, productID, variant string) (cart.Snapshot, error) {
	return s.mutate(ctx, func(c cart.Snapshot) (cart.Snapshot, error) {
		return c.RemoveItem(productID, variant), nil
	})
}

// Clear empties the cart
func (s *Session) Clear(ctx context.Context) error {
	_, err := s.mutate(ctx, func(cart.Snapshot) (cart.Snapshot, error) {
		return cart.Empty(), nil
	})
	return err
}

// RemoveSubmitted takes an accepted order's lines out of the cart. Lines
// added while the order was in flight stay.
func (s *Session) RemoveSubmitted(ctx context.Context, submitted cart.Snapshot) error {
	_, err := s.mutate(ctx, func(c cart.Snapshot) (cart.Snapshot, error) {
		return c.Subtract(submitted), nil
	})
	return err
}

// mutate applies fn under the session lock. The new snapshot is persisted
// before it becomes visible; a failed write leaves the session unchanged.
func (s *Session) mutate(ctx context.Context, fn func(cart.Snapshot) (cart.Snapshot, error)) (cart.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	cur := s.current.Load()
	next, err := fn(cur.snapshot)
	if err != nil {
		return cur.snapshot, err
	}
	if next.Equal(cur.snapshot) {
		return cur.snapshot, nil
	}
	if err := s.commit(ctx, cur.identity, next); err != nil {
		return cur.snapshot, err
	}
	return next, nil
}

func (s *Session) commit(ctx context.Context, id *shared.Identity, next cart.Snapshot) error {
	if err := s.mirror.Persist(ctx, id, next); err != nil {
		return err
	}
	s.current.Store(&view{identity: id, snapshot: next})
	s.mirror.Push(func() cart.Snapshot { return s.current.Load().snapshot })
	return nil
}

// SwitchIdentity moves the session to id and loads its cart. When guest
// adoption is enabled and the session leaves a guest identity for an
// authenticated one, the guest lines are merged into the loaded cart and
// the guest cart is removed from the keystore.
func (s *Session) SwitchIdentity(ctx context.Context, id *shared.Identity) (cart.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	prev := s.current.Load()
	if s.started && prev.identity.Equal(id) {
		s.current.Store(&view{identity: id, snapshot: prev.snapshot})
		return prev.snapshot, nil
	}

	loaded, _ := s.mirror.Load(ctx, id)
	s.started = true

	adopting := s.adopt && prev.identity.IsGuest() && !id.IsGuest() && !prev.snapshot.IsEmpty()
	if !adopting {
		s.current.Store(&view{identity: id, snapshot: loaded})
		return loaded, nil
	}

	merged := loaded.Merge(prev.snapshot)
	if err := s.commit(ctx, id, merged); err != nil {
		s.current.Store(&view{identity: id, snapshot: loaded})
		return loaded, fmt.Errorf("adopt guest cart: %w", err)
	}
	if err := s.mirror.Discard(ctx, prev.identity); err != nil {
		s.logger.Warn("Failed to remove adopted guest cart", zap.Error(err))
	}
	s.logger.Info("Guest cart adopted",
		zap.String("identity", shared.KeyOf(id)),
		zap.Int("guest_lines", prev.snapshot.Len()),
		zap.Int("lines", merged.Len()))
	return merged, nil
}

// Wait blocks until background pushes of this session have finished
func (s *Session) Wait() {
	s.mirror.Wait()
}

// SetRemote replaces the remote the session syncs with
func (s *Session) SetRemote(r Remote) {
	s.mirror.SetRemote(r)
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}
