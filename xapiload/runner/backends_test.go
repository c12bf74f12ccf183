package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/testutil/helper"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/runner"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/csvsink"
)

func Test_OpenSink_When_BackendIsCSV(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.CSVOutputDestination = t.TempDir()

	// act
	sink, err := runner.OpenSink(context.Background(), cfg, nil)

	// assert
	require.NoError(t, err)
	assert.IsType(t, &csvsink.Sink{}, sink)
	require.NoError(t, sink.Close())
}

func Test_OpenSink_When_BackendIsUnknown(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.Backend = "sqlite"

	// act
	sink, err := runner.OpenSink(context.Background(), cfg, nil)

	// assert
	assert.Nil(t, sink)
	assert.ErrorIs(t, err, xapiload.ErrUnknownBackend)
	assert.ErrorIs(t, err, xapiload.ErrSinkFailed)
}

func Test_Run_Against_The_CSV_Backend(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.CSVOutputDestination = t.TempDir()
	sink, err := runner.OpenSink(context.Background(), cfg, nil)
	require.NoError(t, err)

	r, err := runner.New(cfg, sink)
	require.NoError(t, err)

	// act
	report, err := r.Run(context.Background())
	require.NoError(t, sink.Close())

	// assert
	require.NoError(t, err)
	events, ok := report.Phase(xapiload.PhaseEvents)
	require.True(t, ok)
	assert.Equal(t, 300, events.Rows[xapiload.RowKindXAPIEvent])
	for _, stem := range csvsink.Stems() {
		assert.FileExists(t, sink.(*csvsink.Sink).Path(stem))
	}
}
