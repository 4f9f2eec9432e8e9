package tracing

import (
	"context"

	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/meterline/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationID returns the run or request identifier that ties spans of one
// logical operation together.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if runID := obscontext.RunIDFromContext(ctx); runID != "" {
		return runID
	}
	return obscontext.RequestIDFromContext(ctx)
}

// EnsureRunID guarantees a run identifier on the context, generating a ULID when missing.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if runID := obscontext.RunIDFromContext(ctx); runID != "" {
		return ctx, runID
	}
	runID := ulid.Make().String()
	return obscontext.WithRunID(ctx, runID), runID
}

// ContextWithRemoteSpan seeds ctx with a remote parent if both identifiers parse.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}
	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(ctx, parent)
}
