package oteladapters

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	logAttrTraceID = "trace_id"
	logAttrSpanID  = "span_id"
)

// traceHandler adds the ids of the span active in the record's context.
type traceHandler struct {
	slog.Handler
}

// NewTraceCorrelatingHandler wraps handler so that records logged with a span context carry
// trace_id and span_id attributes.
func NewTraceCorrelatingHandler(handler slog.Handler) slog.Handler {
	return traceHandler{Handler: handler}
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(logAttrTraceID, sc.TraceID().String()),
			slog.String(logAttrSpanID, sc.SpanID().String()),
		)
	}

	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{Handler: h.Handler.WithGroup(name)}
}
