// Package workerpool dispatches batches from one producer to a fixed number of workers
// through a bounded queue.
//
// The queue holds at most twice the number of workers, so a producer that outpaces the sink
// blocks instead of buffering the whole phase in memory. The first failed batch cancels the run:
// the producer stops, idle workers stop taking batches, and batches already handed to the sink
// are allowed to finish.
package workerpool

import (
	"context"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	logMsgBatchWritten = "workerpool: batch written"
	logMsgBatchFailed  = "workerpool: batch failed"
	logMsgPoolDone     = "workerpool: phase drained"

	logAttrPhase      = "phase"
	logAttrKind       = "kind"
	logAttrSeq        = "seq"
	logAttrRows       = "rows"
	logAttrBatches    = "batches"
	logAttrWorker     = "worker"
	logAttrDurationMS = "duration_ms"
	logAttrError      = "error"

	labelPhase  = "phase"
	labelKind   = "kind"
	labelStatus = "status"
)

// Handler writes one batch. It runs on a worker goroutine and must be safe for concurrent use.
type Handler func(ctx context.Context, batch xapiload.Batch) error

// Submit enqueues one batch, blocking while the queue is full.
// It fails once the run is canceled.
type Submit func(batch xapiload.Batch) error

// Producer generates the batches of a phase and hands each one to submit.
type Producer func(ctx context.Context, submit Submit) error

// Stats summarizes a finished run.
type Stats struct {
	Batches int64
	Rows    int64
}

// Pool runs a Producer against a fixed set of workers.
type Pool struct {
	workers  int
	capacity int
	handler  Handler

	logger           xapiload.Logger
	contextualLogger xapiload.ContextualLogger
	metricsCollector xapiload.MetricsCollector
}

// Option defines a functional option for configuring a Pool.
type Option func(*Pool) error

// WithLogger sets the logger. Debug level receives one record per batch.
func WithLogger(logger xapiload.Logger) Option {
	return func(p *Pool) error {
		p.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, preferred over the plain logger for batch records.
func WithContextualLogger(logger xapiload.ContextualLogger) Option {
	return func(p *Pool) error {
		p.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for batch durations, counts and queue depth.
func WithMetrics(collector xapiload.MetricsCollector) Option {
	return func(p *Pool) error {
		p.metricsCollector = collector
		return nil
	}
}

// WithQueueCapacity overrides the default queue capacity of two batches per worker.
func WithQueueCapacity(capacity int) Option {
	return func(p *Pool) error {
		if capacity < 1 {
			return xapiload.ErrInvalidWorkerCount
		}

		p.capacity = capacity

		return nil
	}
}

// New creates a Pool with the given number of workers.
func New(workers int, handler Handler, options ...Option) (*Pool, error) {
	if workers < 1 {
		return nil, xapiload.ErrInvalidWorkerCount
	}

	p := &Pool{
		workers:  workers,
		capacity: workers * 2,
		handler:  handler,
	}

	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Capacity returns the queue capacity.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Run drives produce until it returns and every submitted batch has been handled.
// A handler failure is returned as a *xapiload.SinkError carrying the batch's phase, kind and seq.
// When several batches fail, the first failure wins.
func (p *Pool) Run(ctx context.Context, produce Producer) (Stats, error) {
	var stats Stats
	var batches, rows atomic.Int64

	queue := make(chan xapiload.Batch, p.capacity)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)

		return produce(gctx, func(batch xapiload.Batch) error {
			select {
			case queue <- batch:
				p.recordQueueDepth(batch.Phase, len(queue))
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	for worker := range p.workers {
		g.Go(func() error {
			for batch := range queue {
				if gctx.Err() != nil {
					return nil
				}

				if err := p.handle(gctx, worker, batch); err != nil {
					return err
				}

				batches.Add(1)
				rows.Add(int64(batch.Len()))
			}

			return nil
		})
	}

	err := g.Wait()
	stats.Batches, stats.Rows = batches.Load(), rows.Load()

	if err == nil {
		p.logInfo(ctx, logMsgPoolDone, logAttrBatches, stats.Batches, logAttrRows, stats.Rows)
	}

	return stats, err
}

// handle writes one batch. The write runs on a context that is not canceled with the run,
// so a batch that reached the sink completes even when another worker failed.
func (p *Pool) handle(ctx context.Context, worker int, batch xapiload.Batch) error {
	start := time.Now()
	err := p.handler(context.WithoutCancel(ctx), batch)
	duration := time.Since(start)

	status := xapiload.StatusSuccess
	if err != nil {
		status = xapiload.StatusError
	}
	p.recordBatch(batch, duration, status)

	if err != nil {
		p.logError(ctx, logMsgBatchFailed, err,
			logAttrPhase, string(batch.Phase), logAttrKind, string(batch.Kind), logAttrSeq, batch.Seq, logAttrWorker, worker)

		return &xapiload.SinkError{Phase: batch.Phase, Kind: batch.Kind, BatchSeq: batch.Seq, Err: err}
	}

	p.logDebug(ctx, logMsgBatchWritten,
		logAttrPhase, string(batch.Phase), logAttrKind, string(batch.Kind), logAttrSeq, batch.Seq,
		logAttrRows, batch.Len(), logAttrWorker, worker, logAttrDurationMS, toMilliseconds(duration))

	return nil
}

func (p *Pool) recordBatch(batch xapiload.Batch, duration time.Duration, status string) {
	if p.metricsCollector == nil {
		return
	}

	labels := map[string]string{labelPhase: string(batch.Phase), labelKind: string(batch.Kind), labelStatus: status}
	p.metricsCollector.RecordDuration(xapiload.MetricBatchDuration, duration, labels)

	if status == xapiload.StatusError {
		p.metricsCollector.IncrementCounter(xapiload.MetricBatchErrors, labels)
		return
	}

	p.metricsCollector.IncrementCounter(xapiload.MetricBatches, labels)
	p.metricsCollector.AddCounter(xapiload.MetricRowsWritten, int64(batch.Len()), labels)
}

func (p *Pool) recordQueueDepth(phase xapiload.Phase, depth int) {
	if p.metricsCollector != nil {
		p.metricsCollector.RecordValue(xapiload.MetricQueueDepth, float64(depth), map[string]string{
			labelPhase: string(phase),
			"capacity": strconv.Itoa(p.capacity),
		})
	}
}

func (p *Pool) logDebug(ctx context.Context, msg string, args ...any) {
	if p.contextualLogger != nil {
		p.contextualLogger.DebugContext(ctx, msg, args...)
		return
	}

	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pool) logInfo(ctx context.Context, msg string, args ...any) {
	if p.contextualLogger != nil {
		p.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pool) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if p.contextualLogger != nil {
		p.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if p.logger != nil {
		p.logger.Error(msg, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
