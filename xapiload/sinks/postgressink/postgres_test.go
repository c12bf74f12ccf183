package postgressink

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/testutil/helper"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/postgressink/internal/adapters"
)

type fakeResult int64

func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	for i, d := range dest {
		switch target := d.(type) {
		case *int64:
			*target = r.rows[r.pos][i].(int64)
		case *float64:
			*target = r.rows[r.pos][i].(float64)
		case *string:
			*target = r.rows[r.pos][i].(string)
		}
	}

	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

type fakeAdapter struct {
	execs   []string
	queries []string
	answers [][][]any
	execErr error
}

func (f *fakeAdapter) Exec(_ context.Context, query string) (adapters.DBResult, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.execs = append(f.execs, query)

	return fakeResult(strings.Count(query, "),")), nil
}

func (f *fakeAdapter) Query(_ context.Context, query string) (adapters.DBRows, error) {
	f.queries = append(f.queries, query)
	answer := f.answers[0]
	f.answers = f.answers[1:]

	return &fakeRows{rows: answer, pos: -1}, nil
}

func (f *fakeAdapter) Close() error { return nil }

func Test_NewFromPGXPool_When_PoolIsNil(t *testing.T) {
	// act
	_, pgxErr := NewFromPGXPool(nil)
	_, sqlErr := NewFromSQLDB(nil)
	_, sqlxErr := NewFromSQLX(nil)

	// assert
	assert.ErrorIs(t, pgxErr, xapiload.ErrNilDatabaseConnection)
	assert.ErrorIs(t, sqlErr, xapiload.ErrNilDatabaseConnection)
	assert.ErrorIs(t, sqlxErr, xapiload.ErrNilDatabaseConnection)
}

func Test_Prepare_Creates_Tables_With_Keys_And_Indexes(t *testing.T) {
	// setup
	db := &fakeAdapter{}
	s, err := newSink(db)
	require.NoError(t, err)

	// act
	err = s.Prepare(context.Background(), true)

	// assert
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE IF EXISTS "xapi_events_all" CASCADE`, db.execs[0])
	assert.Contains(t, db.execs[1], `CREATE TABLE IF NOT EXISTS "xapi_events_all"`)
	assert.Contains(t, db.execs[1], `"event" jsonb NOT NULL`)
	assert.Contains(t, db.execs[1], `PRIMARY KEY ("course_run_id", "event_id", "emission_time")`)
	assert.NotContains(t, db.execs[1], "PARTITION BY")
	assert.Equal(t,
		`CREATE INDEX IF NOT EXISTS "xapi_events_all_course_run_id_verb_idx" ON "xapi_events_all" ("course_run_id", "verb")`,
		db.execs[2])
	for _, statement := range db.execs {
		assert.NotContains(t, statement, "create_distributed_table")
	}
}

func Test_Prepare_When_Citus(t *testing.T) {
	// setup
	db := &fakeAdapter{}
	start := time.Date(2014, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, time.November, 27, 0, 0, 0, 0, time.UTC)
	s, err := newSink(db, WithCitus(start, end))
	require.NoError(t, err)

	// act
	err = s.Prepare(context.Background(), false)

	// assert
	require.NoError(t, err)
	assert.Contains(t, db.execs[0], `PARTITION BY RANGE ("emission_time")`)

	last := db.execs[len(db.execs)-2:]
	assert.Contains(t, last[0], "create_time_partitions(table_name := 'xapi_events_all'")
	assert.Contains(t, last[0], "start_from := '2014-01-01T00:00:00Z', end_at := '2023-12-27T00:00:00Z'")
	assert.Equal(t, "SELECT create_distributed_table('xapi_events_all', 'course_run_id')", last[1])
}

func Test_WithCitus_When_RangeIsEmpty(t *testing.T) {
	// setup
	at := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

	// act
	_, err := newSink(&fakeAdapter{}, WithCitus(at, at))

	// assert
	assert.ErrorIs(t, err, xapiload.ErrInvalidConfiguration)
}

func Test_WriteBatch_Renders_One_MultiRow_Insert(t *testing.T) {
	// setup
	db := &fakeAdapter{}
	logHandler := helper.NewLogHandlerSpy(false)
	s, err := newSink(db, WithLogger(slog.New(logHandler)))
	require.NoError(t, err)
	id := uuid.MustParse("0b9c2f0e-6a2f-4b6e-9d0a-3c4d5e6f7a8b")
	at := time.Date(2021, time.February, 3, 4, 5, 6, 0, time.UTC)

	// act
	err = s.WriteBatch(context.Background(), xapiload.Batch{
		Phase: xapiload.PhaseEvents,
		Kind:  xapiload.RowKindXAPIEvent,
		Seq:   2,
		Rows: []xapiload.Row{
			xapiload.XAPIEvent{EventID: id, ActorID: id, Verb: "v", EmissionTime: at, Event: []byte(`{"a":"it's"}`)},
			xapiload.XAPIEvent{EventID: id, ActorID: id, Verb: "w", EmissionTime: at, Event: []byte(`{}`)},
		},
	})

	// assert
	require.NoError(t, err)
	require.Len(t, db.execs, 1)
	query := db.execs[0]
	assert.True(t, strings.HasPrefix(query, `INSERT INTO "xapi_events_all" ("event_id", "verb", "actor_id"`))
	assert.Contains(t, query, `'{"a":"it''s"}'`)
	assert.Contains(t, query, "'2021-02-03T04:05:06Z'")
	assert.Equal(t, 2, strings.Count(query, "'0b9c2f0e-6a2f-4b6e-9d0a-3c4d5e6f7a8b', 'v'")+
		strings.Count(query, "'0b9c2f0e-6a2f-4b6e-9d0a-3c4d5e6f7a8b', 'w'"))
	assert.True(t, logHandler.HasLog(slog.LevelDebug, logMsgBatchInserted).WithAttr(logAttrTable, xapiload.TableXAPIEvents).Assert())
}

func Test_WriteBatch_When_ExecFails(t *testing.T) {
	// setup
	injected := errors.New("connection reset")
	s, err := newSink(&fakeAdapter{execErr: injected})
	require.NoError(t, err)

	// act
	err = s.WriteBatch(context.Background(), xapiload.Batch{
		Kind: xapiload.RowKindTag,
		Rows: []xapiload.Row{xapiload.Tag{ID: 1, TaxonomyID: 1, Value: "Math"}},
	})

	// assert
	assert.ErrorIs(t, err, injected)
}

func Test_ReportDistributions_Builds_Queries_With_Goqu(t *testing.T) {
	// setup
	db := &fakeAdapter{answers: [][][]any{
		{{int64(1)}},
		{{int64(5)}},
		{{"registered", int64(5)}},
		{{"OrgA", int64(305)}},
		{{5.0, int64(5), int64(5)}},
		{{12.0, int64(12), int64(12)}},
		{{3.0, int64(3), int64(3)}},
	}}
	s, err := newSink(db)
	require.NoError(t, err)

	// act
	d, err := s.ReportDistributions(context.Background(), nil)

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Courses)
	assert.Equal(t, int64(5), d.Learners)
	assert.Equal(t, []xapiload.Count{{Key: "OrgA", Count: 305}}, d.Orgs)
	assert.Equal(t, xapiload.Spread{Avg: 12, Min: 12, Max: 12}, d.ProblemsPerCourse)

	require.Len(t, db.queries, 7)
	assert.Equal(t, `SELECT COUNT(DISTINCT("course_run_id")) FROM "xapi_events_all"`, db.queries[0])
	assert.Equal(t,
		`SELECT "verb", COUNT(*) AS "c" FROM "xapi_events_all" GROUP BY "verb" ORDER BY "c" DESC, "verb" ASC`,
		db.queries[2])
	assert.Contains(t, db.queries[5], `COUNT(DISTINCT NULLIF("problem_id", '')) AS "n"`)
	assert.Contains(t, db.queries[5], `AS "per_course"`)
}
