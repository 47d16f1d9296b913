package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

const tracerName = "github.com/anotherai-dev/anotherai-sub001"

// Tracer wraps the OpenTelemetry tracer with gateway-shaped span helpers.
// The host process installs the provider; without one, spans are no-ops.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns the gateway tracer.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// StartCompletion opens the root span for one completion.
func (t *Tracer) StartCompletion(ctx context.Context, agentID, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "completion",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("llm.model", model),
		))
}

// StartLLMCall opens a span for one upstream provider call.
func (t *Tracer) StartLLMCall(ctx context.Context, provider domain.Provider, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "llm.call",
		trace.WithAttributes(
			attribute.String("llm.provider", string(provider)),
			attribute.String("llm.model", model),
		))
}

// EndLLMCall closes an upstream call span with its outcome; errKind is empty
// on success.
func EndLLMCall(span trace.Span, errKind string) {
	if errKind != "" {
		span.SetStatus(codes.Error, errKind)
		span.SetAttributes(attribute.String("error.kind", errKind))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// EndCompletion closes the root span with the completion's outcome.
func EndCompletion(span trace.Span, c *domain.Completion) {
	if c.Output.Error != nil {
		span.SetStatus(codes.Error, c.Output.Error.Kind)
		span.SetAttributes(attribute.String("error.kind", c.Output.Error.Kind))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if c.CostUSD != nil {
		span.SetAttributes(attribute.Float64("llm.cost_usd", *c.CostUSD))
	}
	span.SetAttributes(attribute.Int("llm.attempts", len(c.Traces)))
	span.End()
}
