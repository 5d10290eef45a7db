package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "syncbridge"

// StartPassSpan starts a span for one scheduling pass.
func StartPassSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync.pass")
}

// StartAttemptSpan starts a span for one sync attempt.
func StartAttemptSpan(ctx context.Context, recordID, entityType, entityID, systemID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync.attempt",
		trace.WithAttributes(
			attribute.String("sync_record.id", recordID),
			attribute.String("entity.type", entityType),
			attribute.String("entity.id", entityID),
			attribute.String("external_system.id", systemID),
		),
	)
}

// StartAdapterSpan starts a client span for a vendor adapter call.
func StartAdapterSpan(ctx context.Context, systemID, vendor, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "adapter."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("external_system.id", systemID),
			attribute.String("external_system.type", vendor),
		),
	)
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
