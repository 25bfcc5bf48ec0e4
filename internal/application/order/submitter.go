package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/order"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/remote"
	"github.com/bgl/storefront/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSubmissionFailed matches every *SubmissionError under errors.Is
var ErrSubmissionFailed = errors.New("order submission failed")

// errRejected is the cause recorded when the backend answers 2xx with
// success false
var errRejected = errors.New("backend did not accept the order")

// SubmissionError reports that an order was not accepted. The cart is
// retained unless the clear failure policy is configured.
type SubmissionError struct {
	IdempotencyKey string
	Cause          error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("order submission failed: %v", e.Cause)
}

// Unwrap returns the cause
func (e *SubmissionError) Unwrap() error {
	return e.Cause
}

// Is matches ErrSubmissionFailed
func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

// LedgerClearer is the cart an order was built from. Clear empties it;
// RemoveSubmitted takes only the ordered lines out.
type LedgerClearer interface {
	Clear(ctx context.Context) error
	RemoveSubmitted(ctx context.Context, submitted cart.Snapshot) error
}

// Failure policies
const (
	FailurePolicyRetain = "retain"
	FailurePolicyClear  = "clear"
)

// SubmitterConfig configures a Submitter
type SubmitterConfig struct {
	// FailurePolicy decides what happens to the cart when submission fails
	FailurePolicy string
	// Timeout bounds the single create-order call
	Timeout time.Duration
}

// Submitter turns a cart snapshot into an order on the remote backend.
// Each call makes at most one remote attempt.
type Submitter struct {
	remote  Remote
	history *History
	cfg     SubmitterConfig
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics

	now    func() time.Time
	newKey func() string
}

// NewSubmitter creates a Submitter
func NewSubmitter(r Remote, history *History, cfg SubmitterConfig, logger *zap.Logger, metrics *telemetry.SyncMetrics) *Submitter {
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailurePolicyRetain
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		remote:  r,
		history: history,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		newKey:  uuid.NewString,
	}
}

// Submit places an order for snapshot on behalf of identity and returns
// the order id. A guest identity or an empty snapshot is rejected before
// any network call. On success the order is appended to the local history
// and the submitted lines are removed from ledger; on failure a
// *SubmissionError is returned.
func (s *Submitter) Submit(ctx context.Context, identity *shared.Identity, snapshot cart.Snapshot, ledger LedgerClearer) (string, error) {
	if identity.IsGuest() {
		s.metrics.OrderSubmitted(ctx, telemetry.OutcomeRejected, 0)
		return "", shared.ErrUnauthenticated
	}
	if snapshot.IsEmpty() {
		s.metrics.OrderSubmitted(ctx, telemetry.OutcomeRejected, 0)
		return "", order.ErrEmptyCart
	}

	key := s.newKey()
	req := remote.CreateOrderRequest{
		ClientName:  identity.DisplayName,
		ClientEmail: identity.Email,
		Items:       snapshot.Items(),
		Total:       snapshot.TotalAmount(),
	}

	start := time.Now()
	resp, err := s.create(ctx, req, key)
	elapsed := time.Since(start)

	if err == nil && !resp.Success {
		err = errRejected
		if resp.Message != "" {
			err = fmt.Errorf("%w: %s", errRejected, resp.Message)
		}
	}
	if err != nil {
		s.metrics.OrderSubmitted(ctx, telemetry.OutcomeFailed, elapsed)
		return "", s.fail(ctx, identity, key, err, ledger)
	}
	s.metrics.OrderSubmitted(ctx, telemetry.OutcomeOK, elapsed)

	id := string(resp.OrderID)
	if id == "" {
		id = "ORD-" + key
		s.logger.Warn("Backend accepted order without an id, using the idempotency key",
			zap.String("order_id", id))
	}

	placed, err := order.New(id, identity, snapshot, s.now())
	if err != nil {
		return "", err
	}
	if s.history != nil {
		if err := s.history.Append(ctx, identity, *placed); err != nil {
			s.logger.Error("Failed to record accepted order locally",
				zap.String("order_id", id), zap.Error(err))
		}
	}
	if ledger != nil {
		if err := ledger.RemoveSubmitted(ctx, snapshot); err != nil {
			s.logger.Error("Failed to clear cart after accepted order",
				zap.String("order_id", id), zap.Error(err))
		}
	}

	s.logger.Info("Order submitted",
		zap.String("order_id", id),
		zap.String("identity", identity.ID),
		zap.Int("lines", snapshot.Len()),
		zap.String("total", placed.Total.StringFixed(2)))
	return id, nil
}

func (s *Submitter) create(ctx context.Context, req remote.CreateOrderRequest, key string) (remote.CreateOrderResponse, error) {
	if s.remote == nil {
		return remote.CreateOrderResponse{}, fmt.Errorf("create order: %w", remote.ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.remote.CreateOrder(ctx, req, key)
}

func (s *Submitter) fail(ctx context.Context, identity *shared.Identity, key string, cause error, ledger LedgerClearer) error {
	s.logger.Warn("Order submission failed",
		zap.String("identity", identity.ID),
		zap.String("idempotency_key", key),
		zap.String("failure_policy", s.cfg.FailurePolicy),
		zap.Error(cause))

	if s.cfg.FailurePolicy == FailurePolicyClear && ledger != nil {
		if err := ledger.Clear(ctx); err != nil {
			s.logger.Error("Failed to clear cart after failed submission", zap.Error(err))
		}
	}
	return &SubmissionError{IdempotencyKey: key, Cause: cause}
}
