package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentOutcomes metric.Int64Counter
	ledgerPostings  metric.Int64Counter
	presenceEvents  metric.Int64Counter
	gatewayCalls    metric.Int64Counter
	rateLimitDenied metric.Int64Counter
	intentsCreated  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "captiva"
	}
	meter := provider.Meter(name)

	paymentOutcomes, err := meter.Int64Counter("captiva_payment_outcomes_total",
		metric.WithDescription("Payment observations applied, by source and resulting status."))
	if err != nil {
		return nil, err
	}
	ledgerPostings, err := meter.Int64Counter("captiva_ledger_postings_total")
	if err != nil {
		return nil, err
	}
	presenceEvents, err := meter.Int64Counter("captiva_presence_events_total")
	if err != nil {
		return nil, err
	}
	gatewayCalls, err := meter.Int64Counter("captiva_gateway_calls_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("captiva_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	intentsCreated, err := meter.Int64Counter("captiva_payment_intents_created_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentOutcomes: paymentOutcomes,
		ledgerPostings:  ledgerPostings,
		presenceEvents:  presenceEvents,
		gatewayCalls:    gatewayCalls,
		rateLimitDenied: rateLimitDenied,
		intentsCreated:  intentsCreated,
	}, nil
}

// RecordPaymentOutcome counts an applied observation. result is "applied",
// "noop" or "reversed".
func (m *Metrics) RecordPaymentOutcome(ctx context.Context, source, status, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.paymentOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerPosting counts credit and reversal journal entries.
func (m *Metrics) RecordLedgerPosting(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.ledgerPostings.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPresence(ctx context.Context, event string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(event)),
		attribute.String("result", result),
	)
	m.presenceEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordGatewayCall(ctx context.Context, provider, operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("result", result),
	)
	m.gatewayCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordIntentCreated(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.intentsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"method":      {},
	"route":       {},
	"provider":    {},
	"operation":   {},
	"event_type":  {},
	"source":      {},
	"status":      {},
	"result":      {},
	"kind":        {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
