package oteladapters_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/oteladapters"
)

func Test_SlogBridgeLogger_Writes_All_Levels_To_The_Handler(t *testing.T) {
	// setup
	var buf bytes.Buffer
	logger := oteladapters.NewSlogBridgeLoggerWithHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	// act
	logger.Debug("plain debug")
	logger.Info("plain info", "workers", 4)
	logger.WarnContext(ctx, "context warn")
	logger.ErrorContext(ctx, "context error", "phase", "events")

	// assert
	output := buf.String()
	assert.Contains(t, output, `"msg":"plain debug"`)
	assert.Contains(t, output, `"workers":4`)
	assert.Contains(t, output, `"level":"WARN","msg":"context warn"`)
	assert.Contains(t, output, `"phase":"events"`)
}

func Test_NewSlogBridgeLogger_Without_A_LoggerProvider(t *testing.T) {
	// setup
	logger := oteladapters.NewSlogBridgeLogger("xapiload")

	// act and assert
	assert.NotPanics(t, func() {
		logger.InfoContext(context.Background(), "run starting", "backend", "clickhouse")
		logger.Error("run failed")
	})
}

func Test_TraceCorrelatingHandler_Adds_Span_Ids(t *testing.T) {
	// setup
	var buf bytes.Buffer
	handler := oteladapters.NewTraceCorrelatingHandler(slog.NewTextHandler(&buf, nil))
	logger := oteladapters.NewSlogBridgeLoggerWithHandler(handler)

	collector, _ := givenTracing()
	ctx, span := collector.StartSpan(context.Background(), "xapiload.phase", nil)
	defer collector.FinishSpan(span, "success", nil)

	spanContext := trace.SpanContextFromContext(ctx)

	// act
	logger.InfoContext(ctx, "runner: phase completed")
	logger.InfoContext(context.Background(), "runner: starting run")

	// assert
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id="+spanContext.TraceID().String())
	assert.Contains(t, lines[0], "span_id="+spanContext.SpanID().String())
	assert.NotContains(t, lines[1], "trace_id")
}
