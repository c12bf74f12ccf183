package postgressink

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	colCourseRunID = "course_run_id"
	colActorID     = "actor_id"
	colVerb        = "verb"
	colOrg         = "org"
	aliasCount     = "c"
	aliasPerCourse = "n"
	aliasSubquery  = "per_course"
)

// ReportDistributions runs the distribution queries against the xAPI event table.
func (s *Sink) ReportDistributions(ctx context.Context, timer xapiload.QueryTimer) (xapiload.Distributions, error) {
	var d xapiload.Distributions

	steps := []struct {
		name string
		run  func() error
	}{
		{xapiload.QueryCourses, func() (err error) {
			d.Courses, err = s.queryInt(ctx, s.countDistinct(colCourseRunID))
			return err
		}},
		{xapiload.QueryLearners, func() (err error) {
			d.Learners, err = s.queryInt(ctx, s.countDistinct(colActorID))
			return err
		}},
		{xapiload.QueryVerbs, func() (err error) {
			d.Verbs, err = s.queryCounts(ctx, s.countBy(colVerb))
			return err
		}},
		{xapiload.QueryOrgs, func() (err error) {
			d.Orgs, err = s.queryCounts(ctx, s.countBy(colOrg))
			return err
		}},
		{xapiload.QueryStudentsPerCourse, func() (err error) {
			d.StudentsPerCourse, err = s.querySpread(ctx, s.spread(goqu.COUNT(goqu.DISTINCT(colActorID))))
			return err
		}},
		{xapiload.QueryProblemsPerCourse, func() (err error) {
			d.ProblemsPerCourse, err = s.querySpread(ctx, s.spread(goqu.L(`COUNT(DISTINCT NULLIF("problem_id", ''))`)))
			return err
		}},
		{xapiload.QueryVideosPerCourse, func() (err error) {
			d.VideosPerCourse, err = s.querySpread(ctx, s.spread(goqu.L(`COUNT(DISTINCT NULLIF("video_id", ''))`)))
			return err
		}},
	}

	for _, step := range steps {
		if err := xapiload.TimeQuery(timer, step.name, step.run); err != nil {
			return xapiload.Distributions{}, fmt.Errorf("%s: %w", step.name, err)
		}
	}

	return d, nil
}

func (s *Sink) events() *goqu.SelectDataset {
	return goqu.Dialect(s.dialectName).From(xapiload.TableXAPIEvents)
}

func (s *Sink) countDistinct(column string) *goqu.SelectDataset {
	return s.events().Select(goqu.COUNT(goqu.DISTINCT(column)))
}

func (s *Sink) countBy(column string) *goqu.SelectDataset {
	return s.events().
		Select(goqu.C(column), goqu.COUNT(goqu.Star()).As(aliasCount)).
		GroupBy(goqu.C(column)).
		Order(goqu.C(aliasCount).Desc(), goqu.C(column).Asc())
}

func (s *Sink) spread(perCourse exp.Expression) *goqu.SelectDataset {
	inner := s.events().
		Select(goqu.C(colCourseRunID), goqu.L("?", perCourse).As(aliasPerCourse)).
		GroupBy(goqu.C(colCourseRunID))

	return goqu.Dialect(s.dialectName).
		From(inner.As(aliasSubquery)).
		Select(
			goqu.L(`COALESCE(AVG("n"), 0)::float8`),
			goqu.L(`COALESCE(MIN("n"), 0)`),
			goqu.L(`COALESCE(MAX("n"), 0)`),
		)
}

func (s *Sink) queryInt(ctx context.Context, ds *goqu.SelectDataset) (int64, error) {
	var value int64

	err := s.queryRows(ctx, ds, func(scan func(dest ...any) error) error {
		return scan(&value)
	})

	return value, err
}

func (s *Sink) queryCounts(ctx context.Context, ds *goqu.SelectDataset) ([]xapiload.Count, error) {
	counts := []xapiload.Count{}

	err := s.queryRows(ctx, ds, func(scan func(dest ...any) error) error {
		var c xapiload.Count
		if err := scan(&c.Key, &c.Count); err != nil {
			return err
		}
		counts = append(counts, c)

		return nil
	})

	return counts, err
}

func (s *Sink) querySpread(ctx context.Context, ds *goqu.SelectDataset) (xapiload.Spread, error) {
	var spread xapiload.Spread

	err := s.queryRows(ctx, ds, func(scan func(dest ...any) error) error {
		return scan(&spread.Avg, &spread.Min, &spread.Max)
	})

	return spread, err
}

func (s *Sink) queryRows(ctx context.Context, ds *goqu.SelectDataset, each func(scan func(dest ...any) error) error) error {
	query, _, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("building select query: %w", err)
	}

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		s.logError(logMsgDBExecFailed, err, logAttrQuery, query)
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := each(rows.Scan); err != nil {
			return err
		}
	}

	return rows.Err()
}
