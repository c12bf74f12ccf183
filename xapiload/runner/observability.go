package runner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	logMsgRunStarting         = "runner: starting run"
	logMsgPrepared            = "runner: sink prepared"
	logMsgPrepareFailed       = "runner: sink prepare failed"
	logMsgPhaseDone           = "runner: phase completed"
	logMsgPhaseFailed         = "runner: phase failed"
	logMsgProgress            = "runner: progress"
	logMsgStagedLoaded        = "runner: staged artifacts loaded"
	logMsgStagedLoadFailed    = "runner: staged load failed"
	logMsgDistributions       = "runner: distributions"
	logMsgDistributionsFailed = "runner: distribution queries failed"
	logMsgTimingFailed        = "runner: timing entry not written"

	logAttrBackend        = "backend"
	logAttrWorkers        = "workers"
	logAttrCourses        = "courses"
	logAttrActors         = "actors"
	logAttrEvents         = "events"
	logAttrPublishes      = "publishes"
	logAttrProfileChanges = "profile_changes"
	logAttrSeed           = "seed"
	logAttrDropTables     = "drop_tables_first"
	logAttrPhase          = "phase"
	logAttrBatches        = "batches"
	logAttrRows           = "rows"
	logAttrArtifacts      = "artifacts"
	logAttrLearners       = "learners"
	logAttrVerbs          = "verbs"
	logAttrOrgs           = "orgs"
	logAttrStudentsAvg    = "students_per_course_avg"
	logAttrProblemsAvg    = "problems_per_course_avg"
	logAttrVideosAvg      = "videos_per_course_avg"
	logAttrDurationMS     = "duration_ms"
	logAttrError          = "error"
	logAttrTimer          = "timer"
	logAttrKey            = "key"
)

const (
	spanNamePhase         = "xapiload.phase"
	spanNameStagedLoad    = "xapiload.staged_load"
	spanNameDistributions = "xapiload.distributions"

	spanAttrPhase      = "phase"
	spanAttrBatches    = "batches"
	spanAttrRows       = "rows"
	spanAttrArtifacts  = "artifacts"
	spanAttrDurationMS = "duration_ms"
)

func (r *Runner) logInfo(ctx context.Context, msg string, args ...any) {
	if r.contextualLogger != nil {
		r.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Runner) logWarn(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if r.contextualLogger != nil {
		r.contextualLogger.WarnContext(ctx, msg, allArgs...)
		return
	}

	if r.logger != nil {
		r.logger.Warn(msg, allArgs...)
	}
}

func (r *Runner) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if r.contextualLogger != nil {
		r.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if r.logger != nil {
		r.logger.Error(msg, allArgs...)
	}
}

// recordPhase records the phase duration metric if the metrics collector is configured.
func (r *Runner) recordPhase(phase xapiload.Phase, duration time.Duration, err error) {
	if r.metricsCollector == nil {
		return
	}

	status := xapiload.StatusSuccess
	if err != nil {
		status = xapiload.StatusError
	}

	r.metricsCollector.RecordDuration(xapiload.MetricPhaseDuration, duration, map[string]string{
		"phase":  string(phase),
		"status": status,
	})
}

func (r *Runner) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, xapiload.SpanContext) {
	if r.tracingCollector != nil {
		return r.tracingCollector.StartSpan(ctx, name, attrs)
	}

	return ctx, nil
}

func (r *Runner) finishSpan(span xapiload.SpanContext, status string, attrs map[string]string) {
	if r.tracingCollector != nil && span != nil {
		r.tracingCollector.FinishSpan(span, status, attrs)
	}
}

func (r *Runner) startPhaseSpan(ctx context.Context, phase xapiload.Phase) (context.Context, xapiload.SpanContext) {
	return r.startSpan(ctx, spanNamePhase, map[string]string{spanAttrPhase: string(phase)})
}

func (r *Runner) finishPhaseSpan(span xapiload.SpanContext, report PhaseReport, err error) {
	if span == nil {
		return
	}

	span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", float64(report.Duration.Nanoseconds())/1e6))

	if err != nil {
		r.finishSpan(span, xapiload.StatusError, nil)
		return
	}

	r.finishSpan(span, xapiload.StatusSuccess, map[string]string{spanAttrBatches: fmt.Sprintf("%d", report.Batches)})
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
