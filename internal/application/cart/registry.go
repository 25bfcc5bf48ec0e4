package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bgl/storefront/internal/domain/catalog"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/keystore"
	"github.com/bgl/storefront/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrRegistryClosed is returned by Session after Close
var ErrRegistryClosed = errors.New("cart: registry closed")

// RemoteFactory returns the remote to use for an authenticated session
// holding token. Guest sessions never sync with the remote, whose cart is
// keyed by the logged-in customer.
type RemoteFactory func(token string) Remote

// RegistryConfig configures a Registry
type RegistryConfig struct {
	Mirror         MirrorConfig
	AdoptGuestCart bool
	// IdleTTL is how long an unused session stays in memory. Zero keeps
	// sessions until Close.
	IdleTTL time.Duration
}

// Registry hands out one Session per identity
type Registry struct {
	store    keystore.Store
	keys     keystore.Keys
	remoteOf RemoteFactory
	prices   catalog.PriceResolver
	cfg      RegistryConfig
	logger   *zap.Logger
	metrics  *telemetry.SyncMetrics

	mu       sync.Mutex
	sessions map[string]*Session
	creating singleflight.Group
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry. remoteOf may be nil for local-only mode.
func NewRegistry(
	store keystore.Store,
	keys keystore.Keys,
	remoteOf RemoteFactory,
	prices catalog.PriceResolver,
	cfg RegistryConfig,
	logger *zap.Logger,
	metrics *telemetry.SyncMetrics,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:    store,
		keys:     keys,
		remoteOf: remoteOf,
		prices:   prices,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

func (r *Registry) remoteFor(id *shared.Identity, token string) Remote {
	if r.remoteOf == nil || id.IsGuest() {
		return nil
	}
	return r.remoteOf(token)
}

// Session returns the started session of id, creating it on first use.
// guestID is the client's guest session id, or "". When guest adoption is
// enabled, the first session of an authenticated identity takes over that
// guest session, and only that one, merging its cart.
func (r *Registry) Session(ctx context.Context, id *shared.Identity, token, guestID string) (*Session, error) {
	key := shared.KeyOf(id)
	remote := r.remoteFor(id, token)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	s, ok := r.sessions[key]
	r.mu.Unlock()

	if !ok {
		v, err, _ := r.creating.Do(key, func() (any, error) {
			return r.create(ctx, id, remote, guestID)
		})
		if err != nil {
			return nil, err
		}
		s = v.(*Session)
	}
	s.SetRemote(remote)
	return s, nil
}

// create builds and starts the session of id. A session becomes visible to
// other callers only once it is started.
func (r *Registry) create(ctx context.Context, id *shared.Identity, remote Remote, guestID string) (*Session, error) {
	key := shared.KeyOf(id)
	adopt := r.cfg.AdoptGuestCart && !id.IsGuest() && guestID != ""

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if s, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	var guest *Session
	if adopt {
		guestKey := shared.KeyOf(shared.NewGuest(guestID))
		if g, ok := r.sessions[guestKey]; ok {
			guest = g
			delete(r.sessions, guestKey)
		}
	}
	r.mu.Unlock()

	var s *Session
	if adopt {
		if guest == nil {
			// Evicted or never loaded; the guest cart may still be in the keystore
			guest = r.newSession(shared.NewGuest(guestID))
			guest.Start(ctx)
		}
		guest.SetRemote(remote)
		if _, err := guest.SwitchIdentity(ctx, id); err != nil {
			r.logger.Warn("Guest cart adoption failed",
				zap.String("identity", key),
				zap.Error(err))
		}
		s = guest
	} else {
		s = r.newSession(id)
		s.SetRemote(remote)
		s.Start(ctx)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.Wait()
		return nil, ErrRegistryClosed
	}
	r.sessions[key] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) newSession(id *shared.Identity) *Session {
	mirror := NewRemoteMirror(r.store, r.keys, nil, r.cfg.Mirror, r.logger, r.metrics)
	return NewSession(id, mirror, SessionOptions{
		Prices:         r.prices,
		AdoptGuestCart: r.cfg.AdoptGuestCart,
		Logger:         r.logger,
	})
}

// Len returns the number of sessions in memory
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle drops sessions unused since before now-IdleTTL and returns how
// many were evicted. Their carts stay in the keystore and are reloaded on
// next use.
func (r *Registry) EvictIdle(now time.Time) int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var evicted []*Session
	for key, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			evicted = append(evicted, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range evicted {
		s.Wait()
	}
	if len(evicted) > 0 {
		r.logger.Debug("Evicted idle cart sessions", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// StartJanitor evicts idle sessions every interval until ctx is done or the
// registry is closed
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.cfg.IdleTTL <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case now := <-ticker.C:
				r.EvictIdle(now)
			}
		}
	}()
}

// Close stops the janitor and waits for every session's background pushes.
// Later calls to Session fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Wait()
	}
}
