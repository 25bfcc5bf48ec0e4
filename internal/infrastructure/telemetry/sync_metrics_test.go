package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bgl/storefront/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newManualMetrics(t *testing.T) (*telemetry.SyncMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp, err := telemetry.NewMeterProviderWithReader(telemetry.MetricsConfig{ServiceName: "storefront-test"}, reader, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	assert.True(t, mp.IsEnabled())

	m, err := telemetry.NewSyncMetrics(mp.Meter("storefront"))
	require.NoError(t, err)
	return m, reader
}

// sumByOutcome collects counter name and returns its values keyed by the outcome attribute
func sumByOutcome(t *testing.T, reader *sdkmetric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("outcome"))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestNewSyncMetrics_NilMeter(t *testing.T) {
	m, err := telemetry.NewSyncMetrics(nil)
	assert.ErrorIs(t, err, telemetry.ErrMeterNil)
	assert.Nil(t, m)
}

func TestSyncMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *telemetry.SyncMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.CartLoaded(ctx, telemetry.OutcomeSynced)
		m.CartPushed(ctx, nil)
		m.OrderSubmitted(ctx, telemetry.OutcomeOK, time.Second)
		m.MessagePushed(ctx, "text", nil)
	})
}

func TestSyncMetrics_NoopMeter(t *testing.T) {
	m, err := telemetry.NewSyncMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	m.CartLoaded(context.Background(), telemetry.OutcomeDegraded)
}

func TestSyncMetrics_CartCounters(t *testing.T) {
	m, reader := newManualMetrics(t)
	ctx := context.Background()

	m.CartLoaded(ctx, telemetry.OutcomeSynced)
	m.CartLoaded(ctx, telemetry.OutcomeSynced)
	m.CartLoaded(ctx, telemetry.OutcomeDegraded)
	m.CartPushed(ctx, nil)
	m.CartPushed(ctx, errors.New("boom"))

	assert.Equal(t, map[string]int64{"synced": 2, "degraded": 1},
		sumByOutcome(t, reader, "storefront_cart_loads_total"))
	assert.Equal(t, map[string]int64{"ok": 1, "failed": 1},
		sumByOutcome(t, reader, "storefront_cart_pushes_total"))
}

func TestSyncMetrics_OrderSubmissions(t *testing.T) {
	m, reader := newManualMetrics(t)
	ctx := context.Background()

	m.OrderSubmitted(ctx, telemetry.OutcomeOK, 120*time.Millisecond)
	m.OrderSubmitted(ctx, telemetry.OutcomeFailed, 3*time.Second)
	m.OrderSubmitted(ctx, telemetry.OutcomeRejected, 0)

	assert.Equal(t, map[string]int64{"ok": 1, "failed": 1, "rejected": 1},
		sumByOutcome(t, reader, "storefront_order_submissions_total"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	var count uint64
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "storefront_order_submission_duration_seconds" {
				continue
			}
			hist, ok := metric.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			for _, dp := range hist.DataPoints {
				count += dp.Count
			}
		}
	}
	assert.Equal(t, uint64(2), count, "rejected submissions carry no duration")
}

func TestSyncMetrics_MessagePushes(t *testing.T) {
	m, reader := newManualMetrics(t)
	ctx := context.Background()

	m.MessagePushed(ctx, "text", nil)
	m.MessagePushed(ctx, "file", errors.New("too slow"))

	assert.Equal(t, map[string]int64{"ok": 1, "failed": 1},
		sumByOutcome(t, reader, "storefront_chat_message_pushes_total"))
}

func TestMeterProvider_Disabled(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("x"))
	assert.NoError(t, mp.ForceFlush(context.Background()))
	assert.NoError(t, mp.Shutdown(context.Background()))
}
