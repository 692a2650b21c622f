package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("source", "webhook"),
		attribute.String("mac_address", "aa:bb:cc:dd:ee:ff"),
		attribute.String("status", "approved"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("source"))
	assert.Contains(t, keys, attribute.Key("status"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordPaymentOutcome(ctx, "poll", "approved", "applied")
		m.RecordLedgerPosting(ctx, "credit")
		m.RecordPresence(ctx, "connect", false)
		m.RecordGatewayCall(ctx, "mercadopago", "fetch_status", nil)
		m.RecordRateLimitDenied(ctx, "status_poll", "rate_limited")
		m.RecordIntentCreated(ctx, "mercadopago")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "captiva"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordPaymentOutcome(context.Background(), "webhook", "approved", "applied")
	})
}
