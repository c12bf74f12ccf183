package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/xapi-db-load-go/testutil/helper"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

// closingTarget only records whether it was closed.
type closingTarget struct {
	closed bool
}

func (c *closingTarget) Prepare(context.Context, bool) error { return nil }

func (c *closingTarget) ExecSensitive(context.Context, string) error { return nil }

func (c *closingTarget) Count(context.Context, string) (int64, error) { return 0, nil }

func (c *closingTarget) QualifiedTable(table string) string { return table }

func (c *closingTarget) Structure(string) (string, error) { return "", nil }

func (c *closingTarget) Close() error {
	c.closed = true
	return nil
}

func Test_NewStagingSink_When_BucketIsEmpty(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.S3Bucket = ""
	cfg.S3Region = "us-east-1"
	target := &closingTarget{}

	// act
	sink, err := newStagingSink(context.Background(), cfg, target, nil)

	// assert
	assert.Nil(t, sink)
	assert.ErrorIs(t, err, xapiload.ErrInvalidConfiguration)
	assert.True(t, target.closed, "the clickhouse connection must not leak")
}

func Test_NewRalphSink_When_LRSURLIsEmpty(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.LRSURL = ""
	metadata := helper.NewRecordingSink()

	// act
	sink, err := newRalphSink(cfg, metadata, nil)

	// assert
	assert.Nil(t, sink)
	assert.ErrorIs(t, err, xapiload.ErrInvalidConfiguration)
	assert.True(t, metadata.Closed(), "the clickhouse connection must not leak")
}

func Test_NewRalphSink_Keeps_The_Metadata_Sink_Open(t *testing.T) {
	// setup
	cfg := helper.FixtureConfig()
	cfg.LRSURL = "http://lrs:8100/xAPI/statements"
	metadata := helper.NewRecordingSink()

	// act
	sink, err := newRalphSink(cfg, metadata, nil)

	// assert
	assert.NoError(t, err)
	assert.NotNil(t, sink)
	assert.False(t, metadata.Closed())
}
