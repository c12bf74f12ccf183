package clickhousesink

import (
	"context"
	"fmt"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	distinctCoursesSQL = "SELECT toInt64(uniqExact(course_run_id)) FROM %s"
	distinctActorsSQL  = "SELECT toInt64(uniqExact(actor_id)) FROM %s"
	countByColumnSQL   = "SELECT %[1]s, toInt64(count()) AS c FROM %[2]s GROUP BY %[1]s ORDER BY c DESC, %[1]s"
	spreadSQL          = "SELECT toFloat64(ifNotFinite(avg(n), 0)), toInt64(min(n)), toInt64(max(n)) " +
		"FROM (SELECT course_run_id, %s AS n FROM %s GROUP BY course_run_id)"

	studentsExpr = "uniqExact(actor_id)"
	problemsExpr = "uniqExactIf(problem_id, problem_id != '')"
	videosExpr   = "uniqExactIf(video_id, video_id != '')"
)

// ReportDistributions runs the distribution queries against the xAPI event table.
func (s *Sink) ReportDistributions(ctx context.Context, timer xapiload.QueryTimer) (xapiload.Distributions, error) {
	var d xapiload.Distributions
	events := s.QualifiedTable(xapiload.TableXAPIEvents)

	steps := []struct {
		name string
		run  func() error
	}{
		{xapiload.QueryCourses, func() (err error) {
			d.Courses, err = s.queryInt(ctx, fmt.Sprintf(distinctCoursesSQL, events))
			return err
		}},
		{xapiload.QueryLearners, func() (err error) {
			d.Learners, err = s.queryInt(ctx, fmt.Sprintf(distinctActorsSQL, events))
			return err
		}},
		{xapiload.QueryVerbs, func() (err error) {
			d.Verbs, err = s.queryCounts(ctx, fmt.Sprintf(countByColumnSQL, "verb", events))
			return err
		}},
		{xapiload.QueryOrgs, func() (err error) {
			d.Orgs, err = s.queryCounts(ctx, fmt.Sprintf(countByColumnSQL, "org", events))
			return err
		}},
		{xapiload.QueryStudentsPerCourse, func() (err error) {
			d.StudentsPerCourse, err = s.querySpread(ctx, fmt.Sprintf(spreadSQL, studentsExpr, events))
			return err
		}},
		{xapiload.QueryProblemsPerCourse, func() (err error) {
			d.ProblemsPerCourse, err = s.querySpread(ctx, fmt.Sprintf(spreadSQL, problemsExpr, events))
			return err
		}},
		{xapiload.QueryVideosPerCourse, func() (err error) {
			d.VideosPerCourse, err = s.querySpread(ctx, fmt.Sprintf(spreadSQL, videosExpr, events))
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

func (s *Sink) queryInt(ctx context.Context, query string) (int64, error) {
	var value int64

	err := s.queryRows(ctx, query, func(scan func(dest ...any) error) error {
		return scan(&value)
	})

	return value, err
}

func (s *Sink) queryCounts(ctx context.Context, query string) ([]xapiload.Count, error) {
	counts := []xapiload.Count{}

	err := s.queryRows(ctx, query, func(scan func(dest ...any) error) error {
		var c xapiload.Count
		if err := scan(&c.Key, &c.Count); err != nil {
			return err
		}
		counts = append(counts, c)

		return nil
	})

	return counts, err
}

func (s *Sink) querySpread(ctx context.Context, query string) (xapiload.Spread, error) {
	var spread xapiload.Spread

	err := s.queryRows(ctx, query, func(scan func(dest ...any) error) error {
		return scan(&spread.Avg, &spread.Min, &spread.Max)
	})

	return spread, err
}

func (s *Sink) queryRows(ctx context.Context, query string, each func(scan func(dest ...any) error) error) error {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		s.logError(logMsgStatementFailed, err, logAttrQuery, query)
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

// Count returns the number of rows currently stored in a table.
func (s *Sink) Count(ctx context.Context, table string) (int64, error) {
	return s.queryInt(ctx, "SELECT toInt64(count()) FROM "+s.QualifiedTable(table))
}
