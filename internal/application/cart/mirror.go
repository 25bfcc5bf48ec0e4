// Package cart keeps a customer's cart consistent across the in-memory
// session, the durable keystore and the remote commerce backend.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/keystore"
	"github.com/bgl/storefront/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// SyncState describes how far the session's cart can be trusted to match
// the remote backend
type SyncState int

const (
	// Uninitialized means nothing has been loaded yet
	Uninitialized SyncState = iota
	// Loading means a remote fetch is in flight
	Loading
	// Synced means the last remote exchange succeeded
	Synced
	// DegradedLocal means the last remote exchange failed and the cart is
	// served from the keystore
	DegradedLocal
)

func (s SyncState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Synced:
		return "synced"
	case DegradedLocal:
		return "degraded_local"
	default:
		return "uninitialized"
	}
}

// Remote is the part of the commerce backend the mirror talks to
type Remote interface {
	GetCart(ctx context.Context) (cart.Snapshot, error)
	ReplaceCart(ctx context.Context, snapshot cart.Snapshot) error
}

// MirrorConfig bounds remote calls made by the mirror
type MirrorConfig struct {
	LoadTimeout time.Duration
	PushTimeout time.Duration
}

// DefaultMirrorConfig returns the default timeouts
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		LoadTimeout: 8 * time.Second,
		PushTimeout: 8 * time.Second,
	}
}

// RemoteMirror loads a cart from the remote backend (falling back to the
// keystore), persists every change to the keystore and pushes the full cart
// to the remote in the background. Remote failures are logged and counted,
// never returned.
type RemoteMirror struct {
	store   keystore.Store
	keys    keystore.Keys
	cfg     MirrorConfig
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics

	mu     sync.RWMutex
	remote Remote
	state  SyncState

	inflight sync.WaitGroup
}

// NewRemoteMirror creates a mirror. remote may be nil, in which case every
// load is served locally.
func NewRemoteMirror(store keystore.Store, keys keystore.Keys, remote Remote, cfg MirrorConfig, logger *zap.Logger, metrics *telemetry.SyncMetrics) *RemoteMirror {
	def := DefaultMirrorConfig()
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = def.PushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteMirror{
		store:   store,
		keys:    keys,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		remote:  remote,
	}
}

// SetRemote replaces the remote used by later calls, for example when the
// session's bearer token changes
func (m *RemoteMirror) SetRemote(r Remote) {
	m.mu.Lock()
	m.remote = r
	m.mu.Unlock()
}

// State returns the current sync state
func (m *RemoteMirror) State() SyncState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *RemoteMirror) setState(s SyncState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *RemoteMirror) currentRemote() Remote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remote
}

// Load returns the cart of id. The remote copy wins when it can be fetched
// within the load timeout and is written through to the keystore; otherwise
// the keystore copy is used and a missing or corrupt value yields an empty
// cart.
func (m *RemoteMirror) Load(ctx context.Context, id *shared.Identity) (cart.Snapshot, SyncState) {
	m.setState(Loading)
	key := m.keys.Cart(id)

	snapshot, err := m.fetch(ctx)
	if err == nil {
		if perr := keystore.SetJSON(ctx, m.store, key, snapshot); perr != nil {
			m.logger.Warn("Failed to write remote cart through to keystore",
				zap.String("key", key), zap.Error(perr))
		}
		m.setState(Synced)
		m.metrics.CartLoaded(ctx, telemetry.OutcomeSynced)
		return snapshot, Synced
	}

	m.logger.Warn("Remote cart unavailable, serving local copy",
		zap.String("key", key), zap.Error(err))

	local := cart.Empty()
	if lerr := keystore.GetJSON(ctx, m.store, key, &local); lerr != nil {
		local = cart.Empty()
		if !errors.Is(lerr, keystore.ErrNotFound) {
			m.logger.Warn("Discarding unreadable local cart", zap.String("key", key), zap.Error(lerr))
		}
	}
	m.setState(DegradedLocal)
	m.metrics.CartLoaded(ctx, telemetry.OutcomeDegraded)
	return local, DegradedLocal
}

func (m *RemoteMirror) fetch(ctx context.Context) (cart.Snapshot, error) {
	r := m.currentRemote()
	if r == nil {
		return cart.Empty(), errors.New("no remote configured")
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.LoadTimeout)
	defer cancel()
	return r.GetCart(ctx)
}

// Persist writes snapshot to the keystore under id's cart key
func (m *RemoteMirror) Persist(ctx context.Context, id *shared.Identity, snapshot cart.Snapshot) error {
	if err := keystore.SetJSON(ctx, m.store, m.keys.Cart(id), snapshot); err != nil {
		return fmt.Errorf("persist cart: %w", err)
	}
	return nil
}

// Discard removes id's cart from the keystore
func (m *RemoteMirror) Discard(ctx context.Context, id *shared.Identity) error {
	if err := m.store.Remove(ctx, m.keys.Cart(id)); err != nil {
		return fmt.Errorf("discard cart: %w", err)
	}
	return nil
}

// Push replaces the remote cart in the background. source is called when
// the push runs, so a push scheduled behind a later mutation sends the
// newest cart.
func (m *RemoteMirror) Push(source func() cart.Snapshot) {
	r := m.currentRemote()
	if r == nil {
		m.setState(DegradedLocal)
		return
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PushTimeout)
		defer cancel()

		err := r.ReplaceCart(ctx, source())
		m.metrics.CartPushed(ctx, err)
		if err != nil {
			m.logger.Warn("Background cart push failed", zap.Error(err))
			m.setState(DegradedLocal)
			return
		}
		m.setState(Synced)
	}()
}

// Wait blocks until every push started so far has finished
func (m *RemoteMirror) Wait() {
	m.inflight.Wait()
}
