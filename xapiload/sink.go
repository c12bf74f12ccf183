package xapiload

import (
	"context"
)

// Sink is the contract every backend implements.
//
// WriteBatch must persist the whole batch or fail as a whole. It may be called concurrently
// by up to num_workers workers, so implementations must be safe for concurrent use.
type Sink interface {
	// Prepare creates the target storage, dropping existing tables first when asked to.
	Prepare(ctx context.Context, dropTablesFirst bool) error
	WriteBatch(ctx context.Context, batch Batch) error
	Close() error
}

// ArtifactRef identifies one staged object-storage artifact.
// Rows is zero for artifacts that were discovered by listing rather than staged in this process.
type ArtifactRef struct {
	Kind  RowKind
	Table string
	Key   string
	Rows  int
}

// Stager is implemented by backends that bulk-load through intermediate object-storage artifacts.
// For such backends WriteBatch stages the batch instead of inserting it.
type Stager interface {
	Stage(ctx context.Context, batch Batch) ([]ArtifactRef, error)
	// Staged returns every artifact staged by this process so far.
	Staged() []ArtifactRef
	// DiscoverStaged lists artifacts previously staged under the configured prefix.
	DiscoverStaged(ctx context.Context) ([]ArtifactRef, error)
	// LoadStaged triggers the server-side load of the given artifacts and returns the loaded row count.
	LoadStaged(ctx context.Context, refs []ArtifactRef) (int64, error)
}

// Count is one row of a grouped count.
type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Spread summarizes a per-course count.
type Spread struct {
	Avg float64 `json:"avg"`
	Min int64   `json:"min"`
	Max int64   `json:"max"`
}

// Distributions is the result of the post-load distribution queries.
type Distributions struct {
	Courses           int64   `json:"courses"`
	Learners          int64   `json:"learners"`
	Verbs             []Count `json:"verbs"`
	Orgs              []Count `json:"orgs"`
	StudentsPerCourse Spread  `json:"students_per_course"`
	ProblemsPerCourse Spread  `json:"problems_per_course"`
	VideosPerCourse   Spread  `json:"videos_per_course"`
}

// DistributionReporter is implemented by backends that can describe the loaded data.
// Each query is reported to the QueryTimer, if one is given, under its query name.
type DistributionReporter interface {
	ReportDistributions(ctx context.Context, timer QueryTimer) (Distributions, error)
}

// QueryTimer receives the duration of one named distribution query.
type QueryTimer func(query string, run func() error) error

// Distribution query names shared by every reporter.
const (
	QueryCourses           = "count_courses"
	QueryLearners          = "count_learners"
	QueryVerbs             = "count_verbs"
	QueryOrgs              = "count_orgs"
	QueryStudentsPerCourse = "students_per_course"
	QueryProblemsPerCourse = "problems_per_course"
	QueryVideosPerCourse   = "videos_per_course"
)

// TimeQuery runs fn through timer, or directly when timer is nil.
func TimeQuery(timer QueryTimer, query string, fn func() error) error {
	if timer == nil {
		return fn()
	}

	return timer(query, fn)
}
