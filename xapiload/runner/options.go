package runner

import (
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/timing"
)

// Option defines a functional option for configuring a Runner.
type Option func(*Runner) error

// WithLogger sets the logger for the Runner.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: every written batch with its duration
// Info level: run summary, phase durations and progress
// Error level: the failure that ended the run.
func WithLogger(logger xapiload.Logger) Option {
	return func(r *Runner) error {
		r.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for the Runner. When set it is preferred over the
// plain logger, so that log records carry the trace and span ids of the current phase.
func WithContextualLogger(logger xapiload.ContextualLogger) Option {
	return func(r *Runner) error {
		r.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Runner and its worker pools.
func WithMetrics(collector xapiload.MetricsCollector) Option {
	return func(r *Runner) error {
		r.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector. Each phase runs inside its own span.
func WithTracing(collector xapiload.TracingCollector) Option {
	return func(r *Runner) error {
		r.tracingCollector = collector
		return nil
	}
}

// WithTimingLog sets the timing log receiving setup, phase, batch and query durations.
func WithTimingLog(log *timing.Log) Option {
	return func(r *Runner) error {
		r.timing = log
		return nil
	}
}

// WithProgressEvery logs progress every n written batches of a phase. Zero disables progress logging.
func WithProgressEvery(n int) Option {
	return func(r *Runner) error {
		if n < 0 {
			return xapiload.ConfigurationError{Field: "progress_every", Problem: "must not be negative"}
		}

		r.progressEvery = int64(n)

		return nil
	}
}
