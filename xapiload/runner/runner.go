// Package runner orchestrates a load run: it prepares the sink, generates the corpus, drives the
// seed, profiles and events phases through a worker pool, triggers the staged load and reports
// the distributions of the loaded data.
//
// Phases run strictly one after another. A phase only starts after every batch of the previous
// phase was written, and the first failure ends the run without attempting later phases.
package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/batching"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/corpus"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sequencer"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/timing"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/workerpool"
)

// Runner executes one run against one sink.
type Runner struct {
	cfg  xapiload.Config
	sink xapiload.Sink

	logger           xapiload.Logger
	contextualLogger xapiload.ContextualLogger
	metricsCollector xapiload.MetricsCollector
	tracingCollector xapiload.TracingCollector
	timing           *timing.Log
	progressEvery    int64

	written atomic.Int64
}

// PhaseReport summarizes one finished phase.
type PhaseReport struct {
	Phase    xapiload.Phase
	Batches  int64
	Rows     map[xapiload.RowKind]int
	Duration time.Duration
}

// Report summarizes a finished run.
type Report struct {
	Phases        []PhaseReport
	StagedRows    int64
	Distributions *xapiload.Distributions
}

// Phase returns the report of the given phase, if it ran.
func (r Report) Phase(phase xapiload.Phase) (PhaseReport, bool) {
	for _, p := range r.Phases {
		if p.Phase == phase {
			return p, true
		}
	}

	return PhaseReport{}, false
}

// New validates cfg and creates a Runner writing to sink.
func New(cfg xapiload.Config, sink xapiload.Sink, options ...Option) (*Runner, error) {
	if sink == nil {
		return nil, xapiload.ErrNilSink
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:           cfg,
		sink:          sink,
		progressEvery: defaultProgressEvery,
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

const defaultProgressEvery = 100

// Run executes the run the configuration asks for: a distributions report only, a load of
// previously staged artifacts only, or a full generation run.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	switch {
	case r.cfg.DistributionsOnly:
		return r.runDistributionsOnly(ctx)
	case r.cfg.LoadDBOnly:
		return r.runLoadOnly(ctx)
	default:
		return r.runFull(ctx)
	}
}

func (r *Runner) runFull(ctx context.Context) (Report, error) {
	var report Report

	r.logSummary(ctx)

	if err := r.prepare(ctx); err != nil {
		return report, err
	}

	var c *corpus.Corpus
	err := r.timed(ctx, timing.TimerSetup, "generate_corpus", func() error {
		var genErr error
		c, genErr = corpus.Generate(r.cfg)
		return genErr
	})
	if err != nil {
		return report, err
	}

	seq := sequencer.New(c)
	phases := []struct {
		phase    xapiload.Phase
		generate func(sequencer.Emit) error
	}{
		{xapiload.PhaseSeed, seq.Seed},
		{xapiload.PhaseProfiles, seq.Profiles},
		{xapiload.PhaseEvents, seq.Events},
	}

	for _, p := range phases {
		phaseReport, err := r.runPhase(ctx, p.phase, p.generate)
		if err != nil {
			return report, err
		}
		report.Phases = append(report.Phases, phaseReport)
	}

	if err := r.verifyEventCount(report); err != nil {
		return report, err
	}

	if stager, ok := r.sink.(xapiload.Stager); ok && r.cfg.LoadFromS3After {
		loaded, err := r.loadStaged(ctx, stager, stager.Staged())
		if err != nil {
			return report, err
		}
		report.StagedRows = loaded
	}

	if r.cfg.ReportDistributions {
		distributions, err := r.reportDistributions(ctx)
		if err != nil {
			return report, err
		}
		report.Distributions = &distributions
	}

	return report, nil
}

func (r *Runner) runLoadOnly(ctx context.Context) (Report, error) {
	var report Report

	stager, ok := r.sink.(xapiload.Stager)
	if !ok {
		return report, fmt.Errorf("%w: %s", xapiload.ErrStagingNotSupported, r.cfg.Backend)
	}

	refs, err := stager.DiscoverStaged(ctx)
	if err != nil {
		return report, &xapiload.SinkError{Phase: xapiload.PhaseStagedLoad, BatchSeq: -1, Err: err}
	}

	if len(refs) == 0 {
		return report, &xapiload.SinkError{Phase: xapiload.PhaseStagedLoad, BatchSeq: -1, Err: xapiload.ErrNoStagedArtifacts}
	}

	loaded, err := r.loadStaged(ctx, stager, refs)
	if err != nil {
		return report, err
	}
	report.StagedRows = loaded

	return report, nil
}

func (r *Runner) runDistributionsOnly(ctx context.Context) (Report, error) {
	var report Report

	distributions, err := r.reportDistributions(ctx)
	if err != nil {
		return report, err
	}
	report.Distributions = &distributions

	return report, nil
}

func (r *Runner) prepare(ctx context.Context) error {
	err := r.timed(ctx, timing.TimerSetup, "prepare", func() error {
		return r.sink.Prepare(ctx, r.cfg.DropTablesFirst)
	})
	if err != nil {
		r.logError(ctx, logMsgPrepareFailed, err)
		return &xapiload.SinkError{Phase: xapiload.PhasePrepare, BatchSeq: -1, Err: err}
	}

	r.logInfo(ctx, logMsgPrepared, logAttrDropTables, r.cfg.DropTablesFirst)

	return nil
}

// runPhase generates the rows of one phase into batches and drains them through a worker pool.
func (r *Runner) runPhase(ctx context.Context, phase xapiload.Phase, generate func(sequencer.Emit) error) (PhaseReport, error) {
	report := PhaseReport{Phase: phase, Rows: make(map[xapiload.RowKind]int)}

	spanCtx, span := r.startPhaseSpan(ctx, phase)
	r.written.Store(0)

	pool, err := workerpool.New(r.cfg.NumWorkers, r.writeBatch, r.poolOptions()...)
	if err != nil {
		return report, err
	}

	var assembler *batching.Assembler
	start := time.Now()

	stats, err := pool.Run(spanCtx, func(_ context.Context, submit workerpool.Submit) error {
		a, err := batching.NewAssembler(phase, r.cfg.BatchSize, batching.Dispatch(submit))
		if err != nil {
			return err
		}
		assembler = a

		if err := generate(a.Add); err != nil {
			return err
		}

		return a.Flush()
	})

	report.Duration = time.Since(start)
	report.Batches = stats.Batches
	if assembler != nil {
		for _, kind := range xapiload.RowKinds() {
			if n := assembler.Rows(kind); n > 0 {
				report.Rows[kind] = n
			}
		}
	}

	r.recordPhase(phase, report.Duration, err)
	r.finishPhaseSpan(span, report, err)
	r.record(spanCtx, timing.TimerPhase, string(phase), report.Duration)

	if err != nil {
		r.logError(spanCtx, logMsgPhaseFailed, err, logAttrPhase, string(phase))
		return report, err
	}

	r.logInfo(spanCtx, logMsgPhaseDone,
		logAttrPhase, string(phase),
		logAttrBatches, report.Batches,
		logAttrRows, stats.Rows,
		logAttrDurationMS, toMilliseconds(report.Duration))

	return report, nil
}

// writeBatch is the worker pool handler: it writes one batch and records its duration.
func (r *Runner) writeBatch(ctx context.Context, batch xapiload.Batch) error {
	key := fmt.Sprintf("%s %s %d", batch.Phase, batch.Kind, batch.Seq)
	if err := r.timed(ctx, timing.TimerBatchLoad, key, func() error { return r.sink.WriteBatch(ctx, batch) }); err != nil {
		return err
	}

	if n := r.written.Add(1); r.progressEvery > 0 && n%r.progressEvery == 0 {
		r.logInfo(ctx, logMsgProgress, logAttrPhase, string(batch.Phase), logAttrBatches, n)
	}

	return nil
}

// verifyEventCount asserts that the events phase produced exactly num_xapi_batches x batch_size rows.
func (r *Runner) verifyEventCount(report Report) error {
	events, _ := report.Phase(xapiload.PhaseEvents)
	if got := events.Rows[xapiload.RowKindXAPIEvent]; got != r.cfg.TotalEvents() {
		return xapiload.GenerationInvariantError{
			Entity:  "events",
			Problem: fmt.Sprintf("generated %d events, configured %d", got, r.cfg.TotalEvents()),
		}
	}

	return nil
}

// loadStaged triggers the single server-side load and checks that every staged row arrived.
// Artifacts that were discovered rather than staged carry no row count and are not checked.
func (r *Runner) loadStaged(ctx context.Context, stager xapiload.Stager, refs []xapiload.ArtifactRef) (int64, error) {
	spanCtx, span := r.startSpan(ctx, spanNameStagedLoad, map[string]string{spanAttrArtifacts: fmt.Sprintf("%d", len(refs))})

	var loaded int64
	start := time.Now()
	err := r.timed(spanCtx, timing.TimerLoad, "staged_load", func() error {
		var loadErr error
		loaded, loadErr = stager.LoadStaged(spanCtx, refs)
		return loadErr
	})

	if err == nil {
		staged, complete := int64(0), true
		for _, ref := range refs {
			staged += int64(ref.Rows)
			complete = complete && ref.Rows > 0
		}

		if complete && staged != loaded {
			err = fmt.Errorf("%w: loaded %d, staged %d", xapiload.ErrStagedRowCountMismatch, loaded, staged)
		}
	}

	r.recordPhase(xapiload.PhaseStagedLoad, time.Since(start), err)

	if err != nil {
		r.finishSpan(span, xapiload.StatusError, nil)
		r.logError(spanCtx, logMsgStagedLoadFailed, err)
		return loaded, &xapiload.SinkError{Phase: xapiload.PhaseStagedLoad, BatchSeq: -1, Err: err}
	}

	r.finishSpan(span, xapiload.StatusSuccess, map[string]string{spanAttrRows: fmt.Sprintf("%d", loaded)})
	r.logInfo(spanCtx, logMsgStagedLoaded,
		logAttrArtifacts, len(refs),
		logAttrRows, loaded,
		logAttrDurationMS, toMilliseconds(time.Since(start)))

	return loaded, nil
}

func (r *Runner) reportDistributions(ctx context.Context) (xapiload.Distributions, error) {
	reporter, ok := r.sink.(xapiload.DistributionReporter)
	if !ok {
		return xapiload.Distributions{}, fmt.Errorf("%w: %s", xapiload.ErrDistributionsNotSupported, r.cfg.Backend)
	}

	spanCtx, span := r.startSpan(ctx, spanNameDistributions, nil)

	distributions, err := reporter.ReportDistributions(spanCtx, func(query string, run func() error) error {
		return r.timed(spanCtx, timing.TimerQuery, query, run)
	})
	if err != nil {
		r.finishSpan(span, xapiload.StatusError, nil)
		r.logError(spanCtx, logMsgDistributionsFailed, err)
		return distributions, &xapiload.SinkError{Phase: xapiload.PhaseDistributions, BatchSeq: -1, Err: err}
	}

	r.finishSpan(span, xapiload.StatusSuccess, nil)
	r.logInfo(spanCtx, logMsgDistributions,
		logAttrCourses, distributions.Courses,
		logAttrLearners, distributions.Learners,
		logAttrVerbs, len(distributions.Verbs),
		logAttrOrgs, len(distributions.Orgs),
		logAttrStudentsAvg, distributions.StudentsPerCourse.Avg,
		logAttrProblemsAvg, distributions.ProblemsPerCourse.Avg,
		logAttrVideosAvg, distributions.VideosPerCourse.Avg)

	return distributions, nil
}

func (r *Runner) poolOptions() []workerpool.Option {
	var options []workerpool.Option
	if r.logger != nil {
		options = append(options, workerpool.WithLogger(r.logger))
	}
	if r.contextualLogger != nil {
		options = append(options, workerpool.WithContextualLogger(r.contextualLogger))
	}
	if r.metricsCollector != nil {
		options = append(options, workerpool.WithMetrics(r.metricsCollector))
	}

	return options
}

func (r *Runner) logSummary(ctx context.Context) {
	r.logInfo(ctx, logMsgRunStarting,
		logAttrBackend, r.cfg.Backend,
		logAttrWorkers, r.cfg.NumWorkers,
		logAttrCourses, r.cfg.TotalCourses(),
		logAttrActors, r.cfg.NumActors,
		logAttrEvents, r.cfg.TotalEvents(),
		logAttrPublishes, r.cfg.NumCoursePublishes,
		logAttrProfileChanges, r.cfg.NumActorProfileChanges,
		logAttrSeed, r.cfg.Seed)
}

// timed runs fn and records its duration in the timing log whether or not fn fails.
func (r *Runner) timed(ctx context.Context, timer, key string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.record(ctx, timer, key, time.Since(start))

	return err
}

// record writes one timing entry. A failed write is logged and never fails the run.
func (r *Runner) record(ctx context.Context, timer, key string, d time.Duration) {
	if r.timing == nil {
		return
	}

	if err := r.timing.Record(timer, key, d); err != nil {
		r.logWarn(ctx, logMsgTimingFailed, err, logAttrTimer, timer, logAttrKey, key)
	}
}
