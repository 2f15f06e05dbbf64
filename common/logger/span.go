package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "basegraph.app/localizer"

// SpanContext pairs a span with the context that carries it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan starts a child span of ctx. The LogFields in ctx become span
// attributes, so traces and logs of a run can be joined on project and run id.
//
//	sc := logger.StartSpan(ctx, "localize.run")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) *SpanContext {
	attrs = append(fieldAttributes(GetLogFields(ctx)), attrs...)
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return &SpanContext{ctx: ctx, span: span}
}

// StartEventSpan starts a consumer span for a codebase event. When the event
// carries the trace id of its producer, the span joins that trace.
func StartEventSpan(ctx context.Context, traceID, name string) *SpanContext {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(fieldAttributes(GetLogFields(ctx))...),
	}

	if id, err := trace.TraceIDFromHex(traceID); err == nil {
		remote := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    id,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// TraceID returns the hex trace id of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End is safe to call more than once.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records err and marks the span failed. A nil err is ignored.
func (sc *SpanContext) RecordError(err error) {
	if sc.span == nil || err == nil {
		return
	}
	sc.span.RecordError(err)
	sc.span.SetStatus(codes.Error, err.Error())
}

// SetAttributes adds result attributes such as suggestion counts.
func (sc *SpanContext) SetAttributes(attrs ...attribute.KeyValue) {
	if sc.span != nil {
		sc.span.SetAttributes(attrs...)
	}
}

func fieldAttributes(f LogFields) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if f.Project != nil {
		attrs = append(attrs, attribute.String("localizer.project", *f.Project))
	}
	if f.RunID != nil {
		attrs = append(attrs, attribute.Int64("localizer.run_id", *f.RunID))
	}
	if f.Strategy != nil {
		attrs = append(attrs, attribute.String("localizer.strategy", *f.Strategy))
	}
	if f.Package != nil {
		attrs = append(attrs, attribute.String("localizer.package", *f.Package))
	}
	if f.IssueID != nil {
		attrs = append(attrs, attribute.String("localizer.issue_id", *f.IssueID))
	}
	if f.EventType != nil {
		attrs = append(attrs, attribute.String("messaging.event_type", *f.EventType))
	}
	if f.MessageID != nil {
		attrs = append(attrs, attribute.String("messaging.message.id", *f.MessageID))
	}
	return attrs
}
