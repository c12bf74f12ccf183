package xapiload

import (
	"context"
	"time"
)

// Logger interface for operational logging, warnings, and error reporting.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger interface for context-aware logging with automatic trace correlation.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector interface for collecting load performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	AddCounter(metric string, delta int64, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for wrapping run phases in tracing spans.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// Metric names recorded by the worker pool and the runner.
const (
	MetricBatchDuration = "xapiload_batch_duration_seconds"
	MetricBatches       = "xapiload_batches_total"
	MetricBatchErrors   = "xapiload_batch_errors_total"
	MetricQueueDepth    = "xapiload_queue_depth"
	MetricPhaseDuration = "xapiload_phase_duration_seconds"
	MetricRowsWritten   = "xapiload_rows_written_total"
)

// Span status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
