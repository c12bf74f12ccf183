// Package helper holds fixtures and test doubles shared by the package tests.
package helper

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/corpus"
)

// FixtureConfig returns a small valid configuration: one small course with five enrolled actors,
// 300 events and 50 profile snapshots. Every call returns fresh maps.
func FixtureConfig() xapiload.Config {
	cfg := xapiload.DefaultConfig()
	cfg.Backend = xapiload.BackendCSV
	cfg.CSVOutputDestination = "/tmp/xapi"
	cfg.NumWorkers = 2
	cfg.NumXAPIBatches = 3
	cfg.BatchSize = 100
	cfg.NumOrganizations = 3
	cfg.NumActors = 10
	cfg.NumActorProfileChanges = 5
	cfg.NumCoursePublishes = 3
	cfg.CourseLengthDays = 120
	cfg.StartDate = xapiload.NewDate(2014, 1, 1)
	cfg.EndDate = xapiload.NewDate(2023, 11, 27)
	cfg.NumCourseSizes = map[string]int{"small": 1}
	cfg.CourseSizeMakeup = map[string]xapiload.CourseSizeMakeup{
		"small": {Actors: 5, Chapters: 3, Sequences: 10, Verticals: 20, Problems: 20, Videos: 10, ForumPosts: 5},
	}
	cfg.Seed = 42

	return cfg
}

// GivenCorpus generates the corpus of cfg or fails the test.
func GivenCorpus(t testing.TB, cfg xapiload.Config) *corpus.Corpus {
	c, err := corpus.Generate(cfg)
	require.NoError(t, err, "error in arranging test data")

	return c
}

// CollectedRow is one row captured by a Collector.
type CollectedRow struct {
	Kind xapiload.RowKind
	Row  xapiload.Row
}

// Collector captures emitted rows in order.
type Collector struct {
	Rows []CollectedRow
}

// Emit has the signature of a sequencer emit func.
func (c *Collector) Emit(kind xapiload.RowKind, row xapiload.Row) error {
	c.Rows = append(c.Rows, CollectedRow{Kind: kind, Row: row})
	return nil
}

// OfKind returns the captured rows of one kind, in emission order.
func (c *Collector) OfKind(kind xapiload.RowKind) []xapiload.Row {
	var rows []xapiload.Row
	for _, r := range c.Rows {
		if r.Kind == kind {
			rows = append(rows, r.Row)
		}
	}

	return rows
}

// CountByKind counts the captured rows per kind.
func (c *Collector) CountByKind() map[xapiload.RowKind]int {
	counts := make(map[xapiload.RowKind]int)
	for _, r := range c.Rows {
		counts[r.Kind]++
	}

	return counts
}
