package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/oteladapters"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/runner"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/timing"
)

const (
	logFormatText = "text"
	logFormatJSON = "json"

	instrumentationName = "github.com/AntonStoeckl/xapi-db-load-go"

	logMsgTimingLog     = "timing log opened"
	logMsgMetric        = "metric"
	logMsgRunDone       = "run completed"
	logAttrPath         = "path"
	logAttrName         = "name"
	logAttrLabels       = "labels"
	logAttrCount        = "count"
	logAttrSum          = "sum"
	logAttrValue        = "value"
	logAttrRows         = "rows"
	logAttrStagedRows   = "staged_rows"
	logAttrDurationMS   = "duration_ms"
	shutdownGracePeriod = 5 * time.Second
)

// runLoad wires logging, observability, the timing log and the sink for one run and prints the
// report to stdout. Without a log_dir the timing log goes to stderr next to the logs.
func runLoad(ctx context.Context, cfg xapiload.Config, opts cliOptions, stdout, stderr io.Writer) (err error) {
	start := time.Now()

	handler, err := newLogHandler(opts, stderr)
	if err != nil {
		return err
	}
	logger := slog.New(handler)

	timingLog, err := timing.Open(cfg.LogDir, stderr)
	if err != nil {
		return usageError{err}
	}
	defer func() { err = errors.Join(err, timingLog.Close()) }()

	if path := timingLog.Path(); path != "" {
		logger.Info(logMsgTimingLog, logAttrPath, path)
	}

	runnerOptions := []runner.Option{
		runner.WithLogger(logger),
		runner.WithTimingLog(timingLog),
	}

	if opts.observabilityEnabled {
		reader := sdkmetric.NewManualReader()
		meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		tracerProvider := sdktrace.NewTracerProvider()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
			defer cancel()

			logMetrics(shutdownCtx, logger, reader)
			err = errors.Join(err, tracerProvider.Shutdown(shutdownCtx), meterProvider.Shutdown(shutdownCtx))
		}()

		runnerOptions = append(runnerOptions,
			runner.WithContextualLogger(oteladapters.NewSlogBridgeLoggerWithHandler(oteladapters.NewTraceCorrelatingHandler(handler))),
			runner.WithMetrics(oteladapters.NewMetricsCollector(meterProvider.Meter(instrumentationName))),
			runner.WithTracing(oteladapters.NewTracingCollector(tracerProvider.Tracer(instrumentationName))),
		)
	}

	sink, err := runner.OpenSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, sink.Close()) }()

	r, err := runner.New(cfg, sink, runnerOptions...)
	if err != nil {
		return err
	}

	report, err := r.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info(logMsgRunDone,
		logAttrRows, totalRows(report),
		logAttrStagedRows, report.StagedRows,
		logAttrDurationMS, time.Since(start).Milliseconds())

	return printReport(stdout, report)
}

func newLogHandler(opts cliOptions, w io.Writer) (slog.Handler, error) {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	handlerOptions := &slog.HandlerOptions{Level: level}

	switch opts.logFormat {
	case logFormatText:
		return slog.NewTextHandler(w, handlerOptions), nil
	case logFormatJSON:
		return slog.NewJSONHandler(w, handlerOptions), nil
	default:
		return nil, usageError{fmt.Errorf("unknown log format %q, use %s or %s", opts.logFormat, logFormatText, logFormatJSON)}
	}
}

func logMetrics(ctx context.Context, logger *slog.Logger, reader *sdkmetric.ManualReader) {
	summaries, err := oteladapters.Summarize(ctx, reader)
	if err != nil {
		logger.Warn(logMsgMetric, "error", err.Error())
		return
	}

	for _, s := range summaries {
		logger.Info(logMsgMetric,
			logAttrName, s.Name,
			logAttrLabels, s.Labels,
			logAttrCount, s.Count,
			logAttrSum, s.Sum,
			logAttrValue, s.Value)
	}
}

func totalRows(report runner.Report) int {
	total := 0
	for _, phase := range report.Phases {
		for _, n := range phase.Rows {
			total += n
		}
	}

	return total
}

// printedPhase is the stdout form of a phase report.
type printedPhase struct {
	Phase      xapiload.Phase           `json:"phase"`
	Batches    int64                    `json:"batches"`
	Rows       map[xapiload.RowKind]int `json:"rows"`
	DurationMS int64                    `json:"duration_ms"`
}

type printedReport struct {
	Phases        []printedPhase          `json:"phases,omitempty"`
	StagedRows    int64                   `json:"staged_rows,omitempty"`
	Distributions *xapiload.Distributions `json:"distributions,omitempty"`
}

func printReport(w io.Writer, report runner.Report) error {
	out := printedReport{StagedRows: report.StagedRows, Distributions: report.Distributions}
	for _, p := range report.Phases {
		out.Phases = append(out.Phases, printedPhase{
			Phase:      p.Phase,
			Batches:    p.Batches,
			Rows:       p.Rows,
			DurationMS: p.Duration.Milliseconds(),
		})
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}
