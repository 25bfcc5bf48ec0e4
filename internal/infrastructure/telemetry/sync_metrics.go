package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Outcome labels recorded on sync metrics
const (
	OutcomeSynced   = "synced"
	OutcomeDegraded = "degraded"
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// SyncMetrics counts how the storefront's local state and the remote
// backend agree. A nil *SyncMetrics records nothing.
type SyncMetrics struct {
	cartLoads        *Counter
	cartPushes       *Counter
	orderSubmissions *Counter
	orderDuration    *Histogram
	messagePushes    *Counter
}

// NewSyncMetrics registers the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	cartLoads, err := NewCounter(meter,
		"storefront_cart_loads_total",
		"Cart loads by outcome (synced from remote or degraded to local)",
		"{load}")
	if err != nil {
		return nil, err
	}
	cartPushes, err := NewCounter(meter,
		"storefront_cart_pushes_total",
		"Background cart pushes to the remote backend by outcome",
		"{push}")
	if err != nil {
		return nil, err
	}
	orderSubmissions, err := NewCounter(meter,
		"storefront_order_submissions_total",
		"Checkout submissions by outcome",
		"{order}")
	if err != nil {
		return nil, err
	}
	orderDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "storefront_order_submission_duration_seconds",
		Description: "Time spent waiting for the remote backend to accept an order",
		Unit:        "s",
		Boundaries:  RemoteDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	messagePushes, err := NewCounter(meter,
		"storefront_chat_message_pushes_total",
		"Chat message pushes to the remote backend by outcome and kind",
		"{message}")
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		cartLoads:        cartLoads,
		cartPushes:       cartPushes,
		orderSubmissions: orderSubmissions,
		orderDuration:    orderDuration,
		messagePushes:    messagePushes,
	}, nil
}

// CartLoaded records a cart load with outcome OutcomeSynced or OutcomeDegraded
func (m *SyncMetrics) CartLoaded(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.cartLoads.Inc(ctx, AttrOutcome.String(outcome))
}

// CartPushed records the result of a background cart push
func (m *SyncMetrics) CartPushed(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.cartPushes.Inc(ctx, AttrOutcome.String(outcomeOf(err)))
}

// OrderSubmitted records a checkout attempt. Rejected submissions never
// reached the network so they carry no duration.
func (m *SyncMetrics) OrderSubmitted(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.orderSubmissions.Inc(ctx, AttrOutcome.String(outcome))
	if outcome != OutcomeRejected {
		m.orderDuration.RecordDuration(ctx, d, AttrOutcome.String(outcome))
	}
}

// MessagePushed records a chat message push
func (m *SyncMetrics) MessagePushed(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	m.messagePushes.Inc(ctx, AttrOutcome.String(outcomeOf(err)), AttrKind.String(kind))
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeOK
}
