package corpus_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/testutil/helper"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/corpus"
)

func Test_Generate_When_FixtureConfig(t *testing.T) {
	// arrange
	cfg := helper.FixtureConfig()

	// act
	c, err := corpus.Generate(cfg)

	// assert
	require.NoError(t, err)
	assert.Len(t, c.Organizations, 3)
	assert.Len(t, c.Actors, 10)
	require.Len(t, c.Courses, 1)

	course := c.Courses[0]
	assert.Len(t, course.Enrollments, 5)
	assert.Equal(t, "small", course.Bucket)
	assert.True(t, strings.HasPrefix(course.ID, "course-v1:"+course.Org.ID+"+"+course.UUID+"+"))
	assert.Equal(t, corpus.BaseURL+"/course/"+course.ID, course.URL)
	assert.Equal(t, course.UUID+" (small)", course.Name)

	distinct := map[string]struct{}{}
	for _, enrollment := range course.Enrollments {
		distinct[enrollment.Actor.Username] = struct{}{}
	}
	assert.Len(t, distinct, 5, "the actor pool holds distinct actors")
}

func Test_Generate_Is_Deterministic(t *testing.T) {
	// arrange
	cfg := helper.FixtureConfig()
	cfg.NumCourseSizes = map[string]int{"small": 3}

	// act
	first, err := corpus.Generate(cfg)
	require.NoError(t, err)
	second, err := corpus.Generate(cfg)
	require.NoError(t, err)

	// assert
	assert.Equal(t, first.Actors, second.Actors)
	require.Len(t, second.Courses, len(first.Courses))
	for i := range first.Courses {
		assert.Equal(t, first.Courses[i].ID, second.Courses[i].ID)
		assert.Equal(t, first.Courses[i].Structure, second.Courses[i].Structure)
		assert.Equal(t, first.Courses[i].Publishes, second.Courses[i].Publishes)
		assert.Equal(t, len(first.Courses[i].Enrollments), len(second.Courses[i].Enrollments))
	}
}

func Test_Generate_When_SeedDiffers(t *testing.T) {
	// arrange
	cfg := helper.FixtureConfig()
	other := helper.FixtureConfig()
	other.Seed = cfg.Seed + 1

	// act
	first, err := corpus.Generate(cfg)
	require.NoError(t, err)
	second, err := corpus.Generate(other)
	require.NoError(t, err)

	// assert
	assert.NotEqual(t, first.Actors[0].ID, second.Actors[0].ID)
}

func Test_Generate_CourseCount_Matches_Buckets(t *testing.T) {
	// arrange
	cfg := helper.FixtureConfig()
	cfg.NumActors = 50
	cfg.NumCourseSizes = map[string]int{"small": 7, "medium": 5}
	cfg.CourseSizeMakeup["medium"] = xapiload.CourseSizeMakeup{Actors: 20, Chapters: 4, Sequences: 8, Verticals: 12, Problems: 30, Videos: 15, ForumPosts: 3}

	// act
	c, err := corpus.Generate(cfg)

	// assert
	require.NoError(t, err)
	require.Len(t, c.Courses, 12)

	perBucket := map[string]int{}
	for _, course := range c.Courses {
		perBucket[course.Bucket]++
	}
	assert.Equal(t, map[string]int{"small": 7, "medium": 5}, perBucket)
}

func Test_Generate_Courses_Fit_DateRange(t *testing.T) {
	// arrange
	cfg := helper.FixtureConfig()
	cfg.NumCourseSizes = map[string]int{"small": 20}

	// act
	c, err := corpus.Generate(cfg)

	// assert
	require.NoError(t, err)
	for _, course := range c.Courses {
		assert.False(t, course.Start.Before(cfg.StartDate.Time), course.ID)
		assert.False(t, course.End.After(cfg.EndDate.Time), course.ID)
		assert.Equal(t, cfg.CourseLength(), course.End.Sub(course.Start))

		for _, enrollment := range course.Enrollments {
			assert.False(t, enrollment.Time.Before(course.Start))
			assert.True(t, enrollment.Time.Before(course.End))
		}

		require.Len(t, course.Publishes, cfg.NumCoursePublishes)
		for i := 1; i < len(course.Publishes); i++ {
			assert.True(t, course.Publishes[i].After(course.Publishes[i-1]), "publishes strictly increase")
		}
	}
}

func Test_Generate_When_ConfigIsInvalid(t *testing.T) {
	// arrange
	cfg := helper.FixtureConfig()
	cfg.NumCourseSizes["large"] = 1

	// act
	_, err := corpus.Generate(cfg)

	// assert
	assert.ErrorIs(t, err, xapiload.ErrInvalidConfiguration)
}

func Test_Course_Structure(t *testing.T) {
	// arrange
	cfg := helper.FixtureConfig()

	// act
	c, err := corpus.Generate(cfg)
	require.NoError(t, err)
	course := c.Courses[0]
	makeup := cfg.CourseSizeMakeup["small"]

	// assert
	require.NotEmpty(t, course.Structure)
	assert.Equal(t, corpus.BlockCourse, course.Structure[0].Type)
	assert.Equal(t, corpus.BlockChapter, course.Structure[1].Type, "the first chapter directly follows the course block")
	assert.Len(t, course.Structure, 1+makeup.Chapters+makeup.Sequences+makeup.Verticals+makeup.Problems+makeup.Videos)
	assert.Len(t, course.ForumPosts, makeup.ForumPosts)

	orders := map[int64]struct{}{}
	for _, block := range course.Structure[1:] {
		assert.True(t, strings.HasPrefix(block.Location, "block-v1:"), block.Location)
		assert.Contains(t, block.ID, "+type@"+string(block.Type)+"+block@")
		orders[block.Order] = struct{}{}
		assert.LessOrEqual(t, len(block.Tags), 2)
	}
	assert.Len(t, orders, len(course.Structure)-1, "display counters are unique across block types")

	chapters := course.StructureOf(corpus.BlockChapter)
	assert.Equal(t, makeup.Chapters, chapters[len(chapters)-1].Section)
}

func Test_Course_Visible_Follows_Publishes(t *testing.T) {
	// arrange
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	course := &corpus.Course{
		Start:     start,
		End:       start.Add(90 * 24 * time.Hour),
		Publishes: []time.Time{start.Add(30 * 24 * time.Hour), start.Add(60 * 24 * time.Hour)},
	}
	ids := []string{"a", "b", "c", "d", "e", "f"}

	// act & assert
	assert.Equal(t, []string{"a", "b"}, course.Visible(ids, start.Add(time.Hour)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, course.Visible(ids, start.Add(31*24*time.Hour)))
	assert.Equal(t, ids, course.Visible(ids, start.Add(61*24*time.Hour)))
	assert.Equal(t, ids, (&corpus.Course{}).Visible(ids, start), "a course without publishes is fully visible")
	assert.Equal(t, []string{"a"}, course.Visible([]string{"a"}, start))
}

func Test_Tag_Lineage_Lists_The_Ancestors_Root_First(t *testing.T) {
	// arrange
	c, err := corpus.Generate(helper.FixtureConfig())
	require.NoError(t, err)

	// act & assert
	for _, tag := range c.Tags {
		if tag.Value == "Deep House" {
			assert.Equal(t, `["Electronic","House"]`, tag.Lineage)
		}
		if tag.ParentID == 0 {
			assert.Equal(t, "[]", tag.Lineage)
		}
	}
}
