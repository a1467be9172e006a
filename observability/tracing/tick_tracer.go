// Package tracing records scheduler ticks as OpenTelemetry spans.
package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
)

const instrumentationName = "github.com/MetaphysicsNecrosis/go-mainthread/observability/tracing"

// TickTracer emits one span per tick. Spans are back-dated to the tick's
// start so they line up with the work they describe.
type TickTracer struct {
	tracer      trace.Tracer
	includeIdle bool
}

var _ core.TickObserver = (*TickTracer)(nil)

// Option configures a TickTracer.
type Option func(*TickTracer)

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *TickTracer) {
		if tp != nil {
			t.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithIdleTicks also records ticks that ran nothing.
func WithIdleTicks() Option {
	return func(t *TickTracer) { t.includeIdle = true }
}

func NewTickTracer(opts ...Option) *TickTracer {
	t := &TickTracer{tracer: otel.Tracer(instrumentationName)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ObserveTick implements core.TickObserver.
func (t *TickTracer) ObserveTick(ctx context.Context, report core.TickReport) {
	if report.Processed() == 0 && !t.includeIdle {
		return
	}

	_, span := t.tracer.Start(ctx, "mainthread.tick",
		trace.WithTimestamp(report.StartedAt),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(tickAttributes(report)...),
	)

	if report.Forced > 0 {
		span.AddEvent("starvation.forced", trace.WithAttributes(
			attribute.Int("count", report.Forced),
			attribute.String("reason", report.ForceReason.String()),
		))
	}
	if report.Failed > 0 {
		span.SetStatus(codes.Error, "task panicked")
	}

	span.End(trace.WithTimestamp(report.StartedAt.Add(report.Duration)))
}

func tickAttributes(r core.TickReport) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("mainthread.tick", int64(r.Tick)),
		attribute.String("mainthread.weights", r.Weights.String()),
		attribute.Int("mainthread.processed", r.Processed()),
		attribute.Int("mainthread.failed", r.Failed),
		attribute.Int("mainthread.passes", r.Passes),
		attribute.Int("mainthread.forced", r.Forced),
		attribute.Bool("mainthread.pass_cap_reached", r.PassCapReached),
		attribute.Bool("mainthread.budget_exhausted", r.BudgetExhausted),
	}
	for _, p := range core.Priorities {
		class := strings.ToLower(p.String())
		attrs = append(attrs,
			attribute.Int("mainthread."+class+".credit", r.Credit[p]),
			attribute.Int("mainthread."+class+".redistributed", r.Redistributed[p]),
		)
	}
	return attrs
}
