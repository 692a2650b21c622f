// Package telemetry holds tracing helpers shared by the HTTP and background paths.
package telemetry

import (
	"context"

	"github.com/smallbiznis/captiva/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
)

// CorrelationSpanProcessor stamps every span with the correlation ID found on
// its start context, so webhook-triggered reconciliation spans can be joined
// with the request that scheduled them.
type CorrelationSpanProcessor struct{}

func NewCorrelationSpanProcessor() *CorrelationSpanProcessor {
	return &CorrelationSpanProcessor{}
}

func (p *CorrelationSpanProcessor) OnStart(ctx context.Context, s trace.ReadWriteSpan) {
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		s.SetAttributes(attribute.String("correlation_id", cid))
	}
}

func (p *CorrelationSpanProcessor) OnEnd(trace.ReadOnlySpan) {}

func (p *CorrelationSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *CorrelationSpanProcessor) ForceFlush(context.Context) error { return nil }

var _ trace.SpanProcessor = (*CorrelationSpanProcessor)(nil)
