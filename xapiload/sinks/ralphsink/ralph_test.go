package ralphsink_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/testutil/helper"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/ralphsink"
)

type received struct {
	user, password string
	contentType    string
	statements     []map[string]any
}

type fakeLRS struct {
	mu       sync.Mutex
	requests []received
	status   int
}

func (f *fakeLRS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var statements []map[string]any
	_ = jsoniter.Unmarshal(body, &statements)

	user, password, _ := r.BasicAuth()

	f.mu.Lock()
	f.requests = append(f.requests, received{
		user:        user,
		password:    password,
		contentType: r.Header.Get("Content-Type"),
		statements:  statements,
	})
	f.mu.Unlock()

	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(`["ok"]`))
}

func givenStatement(verb string) xapiload.XAPIEvent {
	id := uuid.New()
	return xapiload.XAPIEvent{EventID: id, Verb: verb, Event: []byte(`{"id":"` + id.String() + `","verb":{"id":"` + verb + `"}}`)}
}

func Test_WriteBatch_Posts_Statements_With_BasicAuth(t *testing.T) {
	// setup
	lrs := &fakeLRS{status: http.StatusOK}
	server := httptest.NewServer(lrs)
	defer server.Close()

	metadata := helper.NewRecordingSink()
	s, err := ralphsink.New(ralphsink.Settings{URL: server.URL, Username: "ralph", Password: "secret"}, metadata)
	require.NoError(t, err)

	// act
	err = s.WriteBatch(context.Background(), xapiload.Batch{
		Phase: xapiload.PhaseEvents,
		Kind:  xapiload.RowKindXAPIEvent,
		Rows:  []xapiload.Row{givenStatement("played"), givenStatement("paused")},
	})

	// assert
	require.NoError(t, err)
	require.Len(t, lrs.requests, 1)
	request := lrs.requests[0]
	assert.Equal(t, "ralph", request.user)
	assert.Equal(t, "secret", request.password)
	assert.Equal(t, "application/json", request.contentType)
	require.Len(t, request.statements, 2)
	assert.Equal(t, "paused", request.statements[1]["verb"].(map[string]any)["id"])
	assert.Empty(t, metadata.Batches(), "statements never reach the metadata sink")
}

func Test_WriteBatch_Delegates_Metadata_Rows(t *testing.T) {
	// setup
	lrs := &fakeLRS{status: http.StatusOK}
	server := httptest.NewServer(lrs)
	defer server.Close()

	metadata := helper.NewRecordingSink()
	s, err := ralphsink.New(ralphsink.Settings{URL: server.URL}, metadata)
	require.NoError(t, err)

	// act
	require.NoError(t, s.Prepare(context.Background(), true))
	err = s.WriteBatch(context.Background(), xapiload.Batch{
		Phase: xapiload.PhaseProfiles,
		Kind:  xapiload.RowKindUserProfile,
		Rows:  []xapiload.Row{xapiload.UserProfile{ID: 1, UserID: 1}},
	})
	require.NoError(t, s.Close())

	// assert
	require.NoError(t, err)
	assert.Empty(t, lrs.requests)
	assert.Equal(t, 1, metadata.RowsByKind()[xapiload.RowKindUserProfile])

	count, dropped := metadata.Prepared()
	assert.Equal(t, 1, count)
	assert.True(t, dropped)
	assert.True(t, metadata.Closed())
}

func Test_WriteBatch_When_LRSRejects(t *testing.T) {
	// setup
	lrs := &fakeLRS{status: http.StatusBadRequest}
	server := httptest.NewServer(lrs)
	defer server.Close()

	s, err := ralphsink.New(ralphsink.Settings{URL: server.URL}, helper.NewRecordingSink())
	require.NoError(t, err)

	// act
	err = s.WriteBatch(context.Background(), xapiload.Batch{
		Kind: xapiload.RowKindEnrollment,
		Rows: []xapiload.Row{givenStatement("registered")},
	})

	// assert
	assert.ErrorIs(t, err, xapiload.ErrUnexpectedHTTPStatus)
	assert.Contains(t, err.Error(), "400")
}

func Test_New_When_MetadataSinkIsMissing(t *testing.T) {
	// act
	_, err := ralphsink.New(ralphsink.Settings{URL: "http://lrs"}, nil)

	// assert
	assert.ErrorIs(t, err, xapiload.ErrMissingMetadataDestination)
}

func Test_ReportDistributions_When_MetadataSinkCannotReport(t *testing.T) {
	// setup
	s, err := ralphsink.New(ralphsink.Settings{URL: "http://lrs"}, helper.NewRecordingSink())
	require.NoError(t, err)

	// act
	_, err = s.ReportDistributions(context.Background(), nil)

	// assert
	assert.ErrorIs(t, err, xapiload.ErrDistributionsNotSupported)
}
