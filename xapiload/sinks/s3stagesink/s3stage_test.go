package s3stagesink_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/s3stagesink"
)

const pageSize = 2

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	lists   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++

	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	offset := 0
	if in.ContinuationToken != nil {
		offset, _ = strconv.Atoi(*in.ContinuationToken)
	}

	end := min(offset+pageSize, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[offset:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}

	return out, nil
}

type fakeTarget struct {
	mu       sync.Mutex
	execs    []string
	counts   map[string]int64
	rowsPer  int64
	prepared bool
	execErr  error
}

func newFakeTarget(rowsPerStatement int64) *fakeTarget {
	return &fakeTarget{counts: map[string]int64{}, rowsPer: rowsPerStatement}
}

func (f *fakeTarget) Prepare(context.Context, bool) error {
	f.prepared = true
	return nil
}

// ExecSensitive pretends each INSERT loads rowsPer rows per globbed artifact.
func (f *fakeTarget) ExecSensitive(_ context.Context, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, query)

	if f.execErr != nil {
		return f.execErr
	}

	table := strings.Trim(strings.Split(strings.Fields(query)[2], ".")[1], "`")
	f.counts[table] += f.rowsPer * int64(strings.Count(query, ".jsonl.lz4"))

	return nil
}

func (f *fakeTarget) Count(_ context.Context, table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counts[table], nil
}

func (f *fakeTarget) QualifiedTable(table string) string { return "`xapi`.`" + table + "`" }

func (f *fakeTarget) Structure(table string) (string, error) { return "`id` Int64", nil }

func (f *fakeTarget) Close() error { return nil }

func givenSettings() s3stagesink.Settings {
	return s3stagesink.Settings{
		Bucket:   "bucket",
		Prefix:   "run1/",
		Key:      "key",
		Secret:   "se'cret",
		Region:   "us-east-1",
		Endpoint: "http://minio:9000",
	}
}

func givenSink(t *testing.T, store *fakeStore, target *fakeTarget, options ...s3stagesink.Option) *s3stagesink.Sink {
	t.Helper()

	s, err := s3stagesink.New(store, target, givenSettings(), options...)
	require.NoError(t, err)

	return s
}

func eventAt(year int) xapiload.XAPIEvent {
	return xapiload.XAPIEvent{
		EventID:      uuid.New(),
		Verb:         "http://adlnet.gov/expapi/verbs/attempted",
		EmissionTime: time.Date(year, time.June, 3, 4, 5, 6, 123456000, time.UTC),
		Event:        []byte(`{"id":"x"}`),
	}
}

func decode(t *testing.T, body []byte) []map[string]any {
	t.Helper()

	var rows []map[string]any
	scanner := bufio.NewScanner(lz4.NewReader(bytes.NewReader(body)))
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, jsoniter.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, scanner.Err())

	return rows
}

func Test_Stage_Splits_Statements_By_Year(t *testing.T) {
	// setup
	store := newFakeStore()
	s := givenSink(t, store, newFakeTarget(0))
	batch := xapiload.Batch{
		Phase: xapiload.PhaseEvents,
		Kind:  xapiload.RowKindXAPIEvent,
		Seq:   7,
		Rows:  []xapiload.Row{eventAt(2021), eventAt(2019), eventAt(2021)},
	}

	// act
	refs, err := s.Stage(context.Background(), batch)

	// assert
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "run1/xapi_event_2019_7.jsonl.lz4", refs[0].Key)
	assert.Equal(t, 1, refs[0].Rows)
	assert.Equal(t, "run1/xapi_event_2021_7.jsonl.lz4", refs[1].Key)
	assert.Equal(t, 2, refs[1].Rows)
	assert.Equal(t, xapiload.TableXAPIEvents, refs[1].Table)
	assert.Equal(t, refs, s.Staged())

	rows := decode(t, store.objects[refs[1].Key])
	require.Len(t, rows, 2)
	assert.Equal(t, "2021-06-03 04:05:06.123456", rows[0]["emission_time"])
	assert.Equal(t, `{"id":"x"}`, rows[0]["event"])
	assert.Equal(t, "http://adlnet.gov/expapi/verbs/attempted", rows[0]["verb"])
}

func Test_Stage_Keeps_Other_Kinds_In_One_Artifact(t *testing.T) {
	// setup
	store := newFakeStore()
	s := givenSink(t, store, newFakeTarget(0))

	// act
	refs, err := s.Stage(context.Background(), xapiload.Batch{
		Phase: xapiload.PhaseSeed,
		Kind:  xapiload.RowKindTaxonomy,
		Seq:   0,
		Rows:  []xapiload.Row{xapiload.Taxonomy{ID: 1, Name: "Subjects"}, xapiload.Taxonomy{ID: 2, Name: "Skills"}},
	})

	// assert
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "run1/taxonomy_0.jsonl.lz4", refs[0].Key)

	rows := decode(t, store.objects[refs[0].Key])
	assert.Equal(t, []map[string]any{{"id": 1.0, "name": "Subjects"}, {"id": 2.0, "name": "Skills"}}, rows)
}

func Test_Stage_When_UploadFails(t *testing.T) {
	// setup
	injected := errors.New("access denied")
	store := newFakeStore()
	store.putErr = injected
	s := givenSink(t, store, newFakeTarget(0))

	// act
	err := s.WriteBatch(context.Background(), xapiload.Batch{
		Kind: xapiload.RowKindXAPIEvent,
		Rows: []xapiload.Row{eventAt(2020)},
	})

	// assert
	assert.ErrorIs(t, err, injected)
	assert.Empty(t, s.Staged())
}

func Test_DiscoverStaged_Pages_Through_The_Prefix(t *testing.T) {
	// setup
	store := newFakeStore()
	store.objects["run1/xapi_event_2020_1.jsonl.lz4"] = nil
	store.objects["run1/xapi_event_2021_1.jsonl.lz4"] = nil
	store.objects["run1/enrollment_2020_0.jsonl.lz4"] = nil
	store.objects["run1/user_profile_3.jsonl.lz4"] = nil
	store.objects["run1/tag_0.jsonl.lz4"] = nil
	store.objects["run1/notes.txt"] = nil
	store.objects["run2/tag_0.jsonl.lz4"] = nil
	s := givenSink(t, store, newFakeTarget(0))

	// act
	refs, err := s.DiscoverStaged(context.Background())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, store.lists, "six objects under the prefix take three pages")

	kinds := map[string]xapiload.RowKind{}
	for _, ref := range refs {
		kinds[ref.Key] = ref.Kind
		assert.Zero(t, ref.Rows)
	}
	assert.Equal(t, map[string]xapiload.RowKind{
		"run1/xapi_event_2020_1.jsonl.lz4": xapiload.RowKindXAPIEvent,
		"run1/xapi_event_2021_1.jsonl.lz4": xapiload.RowKindXAPIEvent,
		"run1/enrollment_2020_0.jsonl.lz4": xapiload.RowKindEnrollment,
		"run1/user_profile_3.jsonl.lz4":    xapiload.RowKindUserProfile,
		"run1/tag_0.jsonl.lz4":             xapiload.RowKindTag,
	}, kinds)
}

func Test_LoadStaged_Loads_Each_Artifact_Once(t *testing.T) {
	// setup
	store := newFakeStore()
	target := newFakeTarget(10)
	s := givenSink(t, store, target, s3stagesink.WithLoadChunkSize(2))
	refs := []xapiload.ArtifactRef{
		{Kind: xapiload.RowKindXAPIEvent, Table: xapiload.TableXAPIEvents, Key: "run1/xapi_event_2020_0.jsonl.lz4"},
		{Kind: xapiload.RowKindXAPIEvent, Table: xapiload.TableXAPIEvents, Key: "run1/xapi_event_2020_1.jsonl.lz4"},
		{Kind: xapiload.RowKindXAPIEvent, Table: xapiload.TableXAPIEvents, Key: "run1/xapi_event_2021_1.jsonl.lz4"},
		{Kind: xapiload.RowKindXAPIEvent, Table: xapiload.TableXAPIEvents, Key: "run1/xapi_event_2020_0.jsonl.lz4"},
		{Kind: xapiload.RowKindTag, Table: xapiload.TableTags, Key: "run1/tag_0.jsonl.lz4"},
	}

	// act
	loaded, err := s.LoadStaged(context.Background(), refs)
	again, againErr := s.LoadStaged(context.Background(), refs)

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(40), loaded)
	require.Len(t, target.execs, 3)
	assert.Equal(t,
		"INSERT INTO `xapi`.`xapi_events_all` SELECT * FROM s3("+
			"'http://minio:9000/bucket/run1/{xapi_event_2020_0.jsonl.lz4,xapi_event_2020_1.jsonl.lz4}', "+
			"'key', 'se\\'cret', 'JSONEachRow', '`id` Int64', 'lz4')",
		target.execs[0])
	assert.Contains(t, target.execs[1], "'http://minio:9000/bucket/run1/xapi_event_2021_1.jsonl.lz4'")
	assert.Contains(t, target.execs[2], "`xapi`.`tags`")

	require.NoError(t, againErr)
	assert.Zero(t, again)
	assert.Len(t, target.execs, 3)
}

func Test_LoadStaged_When_TheServerRejectsTheLoad(t *testing.T) {
	// setup
	logBuffer := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	target := newFakeTarget(10)
	target.execErr = errors.New("code: 499, message: access denied")
	s := givenSink(t, newFakeStore(), target, s3stagesink.WithLogger(logger))

	// act
	loaded, err := s.LoadStaged(context.Background(), []xapiload.ArtifactRef{
		{Kind: xapiload.RowKindTag, Table: xapiload.TableTags, Key: "run1/tag_0.jsonl.lz4"},
	})

	// assert
	require.ErrorIs(t, err, target.execErr)
	assert.Zero(t, loaded)
	require.Len(t, target.execs, 1)
	assert.Contains(t, target.execs[0], "se\\'cret")
	assert.NotContains(t, err.Error(), "cret")
	assert.NotContains(t, logBuffer.String(), "cret")
}

func Test_New_When_BucketIsEmpty(t *testing.T) {
	// setup
	settings := givenSettings()
	settings.Bucket = ""

	// act
	_, err := s3stagesink.New(newFakeStore(), newFakeTarget(0), settings)

	// assert
	assert.ErrorIs(t, err, xapiload.ErrInvalidConfiguration)
}

func Test_ReportDistributions_When_TargetCannotReport(t *testing.T) {
	// setup
	s := givenSink(t, newFakeStore(), newFakeTarget(0))

	// act
	_, err := s.ReportDistributions(context.Background(), nil)

	// assert
	assert.ErrorIs(t, err, xapiload.ErrDistributionsNotSupported)
}
