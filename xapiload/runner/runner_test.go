package runner_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/testutil/helper"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/runner"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/timing"
)

// stagingSink stages every batch as one artifact and loads them all at once.
type stagingSink struct {
	*helper.RecordingSink

	mu         sync.Mutex
	refs       []xapiload.ArtifactRef
	discovered []xapiload.ArtifactRef
	loadCalls  int
	loadedRefs int
	dropRows   int64
}

func (s *stagingSink) WriteBatch(ctx context.Context, batch xapiload.Batch) error {
	_, err := s.Stage(ctx, batch)
	return err
}

func (s *stagingSink) Stage(ctx context.Context, batch xapiload.Batch) ([]xapiload.ArtifactRef, error) {
	if err := s.RecordingSink.WriteBatch(ctx, batch); err != nil {
		return nil, err
	}

	ref := xapiload.ArtifactRef{
		Kind:  batch.Kind,
		Table: batch.Kind.Table(),
		Key:   fmt.Sprintf("%s_%d", batch.Kind, batch.Seq),
		Rows:  batch.Len(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)

	return []xapiload.ArtifactRef{ref}, nil
}

func (s *stagingSink) Staged() []xapiload.ArtifactRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]xapiload.ArtifactRef(nil), s.refs...)
}

func (s *stagingSink) DiscoverStaged(context.Context) ([]xapiload.ArtifactRef, error) {
	return s.discovered, nil
}

func (s *stagingSink) LoadStaged(_ context.Context, refs []xapiload.ArtifactRef) (int64, error) {
	s.loadCalls++
	s.loadedRefs = len(refs)

	var rows int64
	for _, ref := range refs {
		rows += int64(ref.Rows)
	}

	return rows - s.dropRows, nil
}

// reportingSink answers distribution queries with fixed numbers.
type reportingSink struct {
	*helper.RecordingSink
	queries []string
}

func (s *reportingSink) ReportDistributions(_ context.Context, timer xapiload.QueryTimer) (xapiload.Distributions, error) {
	var d xapiload.Distributions
	for _, query := range []string{xapiload.QueryCourses, xapiload.QueryLearners} {
		err := xapiload.TimeQuery(timer, query, func() error {
			s.queries = append(s.queries, query)
			return nil
		})
		if err != nil {
			return d, err
		}
	}

	d.Courses, d.Learners = 1, 5

	return d, nil
}

func Test_Run_EndToEnd_With_FixtureConfig(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	sink := helper.NewRecordingSink()
	logs := helper.NewLogHandlerSpy(false)
	metrics := helper.NewMetricsCollectorSpy(true)
	r, err := runner.New(cfg, sink, runner.WithLogger(slog.New(logs)), runner.WithMetrics(metrics))
	require.NoError(t, err)

	// act
	report, err := r.Run(context.Background())

	// assert
	require.NoError(t, err)

	rows := sink.RowsByKind()
	assert.Equal(t, 300, rows[xapiload.RowKindXAPIEvent])
	assert.Equal(t, 5, rows[xapiload.RowKindEnrollment], "enrollments are written separately from the random events")
	assert.Equal(t, 50, rows[xapiload.RowKindUserProfile])
	assert.Equal(t, 3, rows[xapiload.RowKindCourseOverview], "one overview per publish")

	actors := map[string]struct{}{}
	for _, row := range sink.Rows(xapiload.RowKindXAPIEvent) {
		actors[row.(xapiload.XAPIEvent).ActorID.String()] = struct{}{}
	}
	assert.Len(t, actors, 5)

	perUser := map[int64]int{}
	for _, row := range sink.Rows(xapiload.RowKindUserProfile) {
		perUser[row.(xapiload.UserProfile).UserID]++
	}
	assert.Len(t, perUser, 10)
	for userID, n := range perUser {
		assert.Equal(t, 5, n, "user %d", userID)
	}

	events, ok := report.Phase(xapiload.PhaseEvents)
	require.True(t, ok)
	assert.Equal(t, int64(3), events.Batches)
	assert.Equal(t, 300, events.Rows[xapiload.RowKindXAPIEvent])

	prepared, dropped := sink.Prepared()
	assert.Equal(t, 1, prepared)
	assert.False(t, dropped)

	assert.True(t, logs.HasLog(slog.LevelInfo, "runner: starting run").WithAttr("backend", "csv").Assert())
	assert.Equal(t, 3, logs.HasLog(slog.LevelInfo, "runner: phase completed").WithDurationMS().Count())
	assert.Equal(t, 3, metrics.Count(helper.SpyDuration, xapiload.MetricPhaseDuration, map[string]string{"status": xapiload.StatusSuccess}))
}

func Test_Run_Batches_Respect_BatchSize(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.BatchSize = 7
	cfg.NumXAPIBatches = 5
	sink := helper.NewRecordingSink()
	r, err := runner.New(cfg, sink)
	require.NoError(t, err)

	// act
	_, err = r.Run(context.Background())

	// assert
	require.NoError(t, err)

	seqs := map[xapiload.Phase]map[int]struct{}{}
	for _, batch := range sink.Batches() {
		assert.LessOrEqual(t, batch.Len(), 7)
		if batch.Kind == xapiload.RowKindXAPIEvent {
			assert.Equal(t, 7, batch.Len(), "event batches are always full")
		}

		if seqs[batch.Phase] == nil {
			seqs[batch.Phase] = map[int]struct{}{}
		}
		_, duplicate := seqs[batch.Phase][batch.Seq]
		assert.False(t, duplicate, "seq numbers are unique per phase")
		seqs[batch.Phase][batch.Seq] = struct{}{}
	}
	assert.Equal(t, 35, sink.RowsByKind()[xapiload.RowKindXAPIEvent])
}

func Test_Run_When_A_Batch_Fails(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.BatchSize = 10
	cfg.NumXAPIBatches = 50
	sink := helper.NewRecordingSink().FailOn(xapiload.PhaseProfiles, 2)
	r, err := runner.New(cfg, sink)
	require.NoError(t, err)

	// act
	report, err := r.Run(context.Background())

	// assert
	require.Error(t, err)
	assert.ErrorIs(t, err, xapiload.ErrSinkFailed)

	var sinkErr *xapiload.SinkError
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, xapiload.PhaseProfiles, sinkErr.Phase)
	assert.GreaterOrEqual(t, sinkErr.BatchSeq, 2)

	_, eventsRan := report.Phase(xapiload.PhaseEvents)
	assert.False(t, eventsRan, "no later phase is attempted")
	assert.Zero(t, sink.RowsByKind()[xapiload.RowKindXAPIEvent])
}

func Test_Run_Stages_And_Loads_Once(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	sink := &stagingSink{RecordingSink: helper.NewRecordingSink()}
	r, err := runner.New(cfg, sink)
	require.NoError(t, err)

	// act
	report, err := r.Run(context.Background())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, sink.loadCalls)
	assert.Equal(t, len(sink.Staged()), sink.loadedRefs)

	var staged int64
	for _, ref := range sink.Staged() {
		staged += int64(ref.Rows)
	}
	assert.Equal(t, staged, report.StagedRows)
}

func Test_Run_When_LoadedRowsDifferFromStaged(t *testing.T) {
	// setup
	sink := &stagingSink{RecordingSink: helper.NewRecordingSink(), dropRows: 1}
	r, err := runner.New(helper.FixtureConfig(), sink)
	require.NoError(t, err)

	// act
	_, err = r.Run(context.Background())

	// assert
	assert.ErrorIs(t, err, xapiload.ErrStagedRowCountMismatch)
	assert.ErrorIs(t, err, xapiload.ErrSinkFailed)
}

func Test_Run_LoadDBOnly(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.Backend = xapiload.BackendCHDB
	cfg.S3Bucket, cfg.S3Key, cfg.S3Secret = "bucket", "key", "secret"
	cfg.LoadDBOnly = true
	sink := &stagingSink{
		RecordingSink: helper.NewRecordingSink(),
		discovered: []xapiload.ArtifactRef{
			{Kind: xapiload.RowKindXAPIEvent, Table: xapiload.TableXAPIEvents, Key: "xapi_event_2020_0.jsonl.lz4"},
			{Kind: xapiload.RowKindTag, Table: xapiload.TableTags, Key: "tag_0_1.jsonl.lz4"},
		},
	}
	r, err := runner.New(cfg, sink)
	require.NoError(t, err)

	// act
	_, err = r.Run(context.Background())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, sink.loadCalls)
	assert.Equal(t, 2, sink.loadedRefs)
	assert.Empty(t, sink.Batches(), "nothing is generated")
	prepared, _ := sink.Prepared()
	assert.Zero(t, prepared)
}

func Test_Run_LoadDBOnly_When_NothingIsStaged(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.Backend = xapiload.BackendCHDB
	cfg.S3Bucket, cfg.S3Key, cfg.S3Secret = "bucket", "key", "secret"
	cfg.LoadDBOnly = true
	r, err := runner.New(cfg, &stagingSink{RecordingSink: helper.NewRecordingSink()})
	require.NoError(t, err)

	// act
	_, err = r.Run(context.Background())

	// assert
	assert.ErrorIs(t, err, xapiload.ErrNoStagedArtifacts)
}

func Test_Run_DistributionsOnly(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.DistributionsOnly = true
	sink := &reportingSink{RecordingSink: helper.NewRecordingSink()}
	var timingLog bytes.Buffer
	r, err := runner.New(cfg, sink, runner.WithTimingLog(timing.New(&timingLog)))
	require.NoError(t, err)

	// act
	report, err := r.Run(context.Background())

	// assert
	require.NoError(t, err)
	require.NotNil(t, report.Distributions)
	assert.Equal(t, int64(5), report.Distributions.Learners)
	assert.Equal(t, []string{xapiload.QueryCourses, xapiload.QueryLearners}, sink.queries)
	assert.Contains(t, timingLog.String(), `"key":"count_learners"`)
	assert.Empty(t, sink.Batches())
}

func Test_Run_DistributionsOnly_When_NotSupported(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.DistributionsOnly = true
	r, err := runner.New(cfg, helper.NewRecordingSink())
	require.NoError(t, err)

	// act
	_, err = r.Run(context.Background())

	// assert
	assert.ErrorIs(t, err, xapiload.ErrDistributionsNotSupported)
}

func Test_Run_Writes_Timing_Log(t *testing.T) {
	// setup
	var timingLog bytes.Buffer
	r, err := runner.New(helper.FixtureConfig(), helper.NewRecordingSink(), runner.WithTimingLog(timing.New(&timingLog)))
	require.NoError(t, err)

	// act
	_, err = r.Run(context.Background())

	// assert
	require.NoError(t, err)
	assert.Contains(t, timingLog.String(), `"timer":"setup","key":"prepare"`)
	assert.Contains(t, timingLog.String(), `"timer":"phase","key":"events"`)
	assert.Contains(t, timingLog.String(), `"timer":"batch_load","key":"events xapi_event 0"`)
}

func Test_New_When_ConfigIsInvalid(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.NumWorkers = 0

	// act
	_, err := runner.New(cfg, helper.NewRecordingSink())

	// assert
	assert.ErrorIs(t, err, xapiload.ErrInvalidConfiguration)
}

func Test_New_When_SinkIsNil(t *testing.T) {
	// act
	_, err := runner.New(helper.FixtureConfig(), nil)

	// assert
	assert.ErrorIs(t, err, xapiload.ErrNilSink)
}

func Test_Run_Wraps_Each_Phase_In_A_Span(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	tracing := helper.NewTracingCollectorSpy()
	r, err := runner.New(cfg, helper.NewRecordingSink(), runner.WithTracing(tracing))
	require.NoError(t, err)

	// act
	report, err := r.Run(context.Background())

	// assert
	require.NoError(t, err)

	spans := tracing.Named("xapiload.phase")
	require.Len(t, spans, 3)
	for i, phase := range []xapiload.Phase{xapiload.PhaseSeed, xapiload.PhaseProfiles, xapiload.PhaseEvents} {
		assert.Equal(t, string(phase), spans[i].StartAttributes["phase"])
		assert.True(t, spans[i].Finished)
		assert.Equal(t, xapiload.StatusSuccess, spans[i].Status)
		assert.Contains(t, spans[i].SpanContext.Attributes(), "duration_ms")
	}

	events, _ := report.Phase(xapiload.PhaseEvents)
	assert.Equal(t, fmt.Sprintf("%d", events.Batches), spans[2].EndAttributes["batches"])
}

func Test_Run_Marks_The_Failed_Phase_Span(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	tracing := helper.NewTracingCollectorSpy()
	r, err := runner.New(cfg, helper.NewRecordingSink().FailOn(xapiload.PhaseSeed, 0), runner.WithTracing(tracing))
	require.NoError(t, err)

	// act
	_, err = r.Run(context.Background())

	// assert
	require.Error(t, err)

	spans := tracing.Named("xapiload.phase")
	require.Len(t, spans, 1, "no later phase is started")
	assert.Equal(t, xapiload.StatusError, spans[0].Status)
	assert.True(t, spans[0].Finished)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func Test_Run_When_TimingLogCannotBeWritten(t *testing.T) {
	// setup
	logs := helper.NewLogHandlerSpy(false)
	sink := helper.NewRecordingSink()
	r, err := runner.New(helper.FixtureConfig(), sink,
		runner.WithLogger(slog.New(logs)),
		runner.WithTimingLog(timing.New(brokenWriter{})))
	require.NoError(t, err)

	// act
	report, err := r.Run(context.Background())

	// assert
	require.NoError(t, err)
	assert.Len(t, report.Phases, 3)
	assert.NotEmpty(t, sink.Batches())
	assert.True(t, logs.HasLog(slog.LevelWarn, "runner: timing entry not written").WithAttr("timer", "batch_load").Assert())
	assert.True(t, logs.HasLog(slog.LevelWarn, "runner: timing entry not written").WithAttr("timer", "phase").Assert())
	assert.False(t, logs.HasLog(slog.LevelError, "runner: phase failed").Assert())
}
