package mongosink

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

type countResult struct {
	Key   string `bson:"_id"`
	Count int64  `bson:"c"`
}

type spreadResult struct {
	Avg float64 `bson:"avg"`
	Min int64   `bson:"min"`
	Max int64   `bson:"max"`
}

type totalResult struct {
	N int64 `bson:"n"`
}

func distinctCount(field string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$" + field}}}},
		{{Key: "$count", Value: "n"}},
	}
}

func countBy(field string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "c", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "c", Value: -1}, {Key: "_id", Value: 1}}}},
	}
}

// perCourseSpread collects the distinct non-empty values of field per course run and summarizes their counts.
func perCourseSpread(field string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$course_run_id"},
			{Key: "values", Value: bson.D{{Key: "$addToSet", Value: "$" + field}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "n", Value: bson.D{{Key: "$size", Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: "$values"},
				{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this", ""}}}},
			}}}}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$n"}}},
			{Key: "min", Value: bson.D{{Key: "$min", Value: "$n"}}},
			{Key: "max", Value: bson.D{{Key: "$max", Value: "$n"}}},
		}}},
	}
}

// ReportDistributions runs the distribution aggregations against the statement collection.
func (s *Sink) ReportDistributions(ctx context.Context, timer xapiload.QueryTimer) (xapiload.Distributions, error) {
	var d xapiload.Distributions

	steps := []struct {
		name string
		run  func() error
	}{
		{xapiload.QueryCourses, func() (err error) {
			d.Courses, err = s.total(ctx, distinctCount("course_run_id"))
			return err
		}},
		{xapiload.QueryLearners, func() (err error) {
			d.Learners, err = s.total(ctx, distinctCount("actor_id"))
			return err
		}},
		{xapiload.QueryVerbs, func() (err error) {
			d.Verbs, err = s.counts(ctx, countBy("verb"))
			return err
		}},
		{xapiload.QueryOrgs, func() (err error) {
			d.Orgs, err = s.counts(ctx, countBy("org"))
			return err
		}},
		{xapiload.QueryStudentsPerCourse, func() (err error) {
			d.StudentsPerCourse, err = s.spread(ctx, perCourseSpread("actor_id"))
			return err
		}},
		{xapiload.QueryProblemsPerCourse, func() (err error) {
			d.ProblemsPerCourse, err = s.spread(ctx, perCourseSpread("problem_id"))
			return err
		}},
		{xapiload.QueryVideosPerCourse, func() (err error) {
			d.VideosPerCourse, err = s.spread(ctx, perCourseSpread("video_id"))
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

func (s *Sink) total(ctx context.Context, pipeline mongo.Pipeline) (int64, error) {
	results, err := s.store.Aggregate(ctx, xapiload.TableXAPIEvents, pipeline)
	if err != nil || len(results) == 0 {
		return 0, err
	}

	var total totalResult
	err = bson.Unmarshal(results[0], &total)

	return total.N, err
}

func (s *Sink) counts(ctx context.Context, pipeline mongo.Pipeline) ([]xapiload.Count, error) {
	results, err := s.store.Aggregate(ctx, xapiload.TableXAPIEvents, pipeline)
	if err != nil {
		return nil, err
	}

	counts := make([]xapiload.Count, 0, len(results))
	for _, raw := range results {
		var c countResult
		if err := bson.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		counts = append(counts, xapiload.Count{Key: c.Key, Count: c.Count})
	}

	return counts, nil
}

func (s *Sink) spread(ctx context.Context, pipeline mongo.Pipeline) (xapiload.Spread, error) {
	results, err := s.store.Aggregate(ctx, xapiload.TableXAPIEvents, pipeline)
	if err != nil || len(results) == 0 {
		return xapiload.Spread{}, err
	}

	var r spreadResult
	if err := bson.Unmarshal(results[0], &r); err != nil {
		return xapiload.Spread{}, err
	}

	return xapiload.Spread(r), nil
}
