// Package oteladapters implements the xapiload observability interfaces on top of OpenTelemetry.
//
// MetricsCollector maps durations to histograms, counts to counters and values to gauges.
// TracingCollector opens one span per phase, staged load and distributions report.
// SlogBridgeLogger satisfies both xapiload.Logger and xapiload.ContextualLogger.
// Summarize reads the current state of a manual metric reader, for printing at the end of a run.
package oteladapters
