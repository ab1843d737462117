package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of every span.
const TracerName = "github.com/drblury/procflow"

// Span attribute keys.
const (
	AttrAggregate = attribute.Key("procflow.aggregate")
	AttrOperation = attribute.Key("procflow.operation")
	AttrAdapter   = attribute.Key("procflow.adapter")
	AttrProcess   = attribute.Key("procflow.process")
	AttrTask      = attribute.Key("procflow.task")
	AttrHandler   = attribute.Key("procflow.handler")
)

// Start opens a span through the global tracer provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
