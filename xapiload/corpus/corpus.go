// Package corpus derives the organizations, actors, taxonomies and courses of a run from its
// configuration and seed. A generated Corpus is read-only and shared by all workers.
package corpus

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	// BaseURL prefixes every course, block and forum post id.
	BaseURL       = "http://localhost:18000"
	emailDomain   = "aspects.invalid"
	maxCourseRuns = 4
)

var (
	genders           = []string{"", "m", "f", "o"}
	levelsOfEducation = []string{"", "p", "m", "b", "none", "other"}
	countries         = []string{"", "US", "CO", "AU", "IN", "PK"}
)

// Organization owns courses.
type Organization struct {
	ID   string
	Name string
}

// Actor is a learner. The profile fields are the initial values; profile changes mutate copies.
type Actor struct {
	UserID           int64
	ID               uuid.UUID
	Username         string
	Name             string
	Email            string
	YearOfBirth      int64
	Gender           string
	LevelOfEducation string
	Country          string
	Language         string
	City             string
	State            string
	Goals            string
	Bio              string
}

// Enrollment places an actor in a course at a point in time.
type Enrollment struct {
	Actor *Actor
	Time  time.Time
}

// Corpus is everything the sequencer needs to produce rows.
type Corpus struct {
	Config        xapiload.Config
	Organizations []Organization
	Actors        []Actor
	Taxonomies    []xapiload.Taxonomy
	Tags          []xapiload.Tag
	Courses       []*Course
}

// Generate builds the corpus for a validated configuration. The same configuration,
// including its seed, always yields an identical corpus.
func Generate(cfg xapiload.Config) (*Corpus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src := NewSource(cfg.Seed, StreamCorpus)

	c := &Corpus{Config: cfg}
	c.Organizations = generateOrganizations(cfg.NumOrganizations)
	c.Taxonomies, c.Tags = generateTaxonomies()
	c.Actors = generateActors(src, cfg.NumActors)
	c.Courses = c.generateCourses(src)

	if err := c.Verify(); err != nil {
		return nil, err
	}

	return c, nil
}

func generateOrganizations(n int) []Organization {
	orgs := make([]Organization, n)
	for i := range orgs {
		orgs[i] = Organization{ID: fmt.Sprintf("Org%d", i), Name: fmt.Sprintf("Organization %d", i)}
	}

	return orgs
}

func generateActors(src *Source, n int) []Actor {
	faker := src.Faker()
	actors := make([]Actor, n)

	for i := range actors {
		username := fmt.Sprintf("actor_%d", i)
		actors[i] = Actor{
			UserID:           int64(i),
			ID:               src.UUID(),
			Username:         username,
			Name:             fmt.Sprintf("Actor %d", i),
			Email:            username + "@" + emailDomain,
			YearOfBirth:      1900 + src.Int64N(111),
			Gender:           Pick(src, genders),
			LevelOfEducation: Pick(src, levelsOfEducation),
			Country:          Pick(src, countries),
			Language:         faker.LanguageAbbreviation(),
			City:             faker.City(),
			State:            faker.State(),
		}
	}

	return actors
}

// generateCourses creates the configured number of courses per bucket. Each drawn course uuid
// gets one to four runs sharing organization, bucket and actor pool, never exceeding the bucket count.
func (c *Corpus) generateCourses(src *Source) []*Course {
	cfg := c.Config
	courses := make([]*Course, 0, cfg.TotalCourses())
	latestStart := cfg.EndDate.Add(-cfg.CourseLength())

	for _, bucket := range cfg.Buckets() {
		makeup := cfg.CourseSizeMakeup[bucket]
		remaining := cfg.NumCourseSizes[bucket]

		for remaining > 0 {
			courseUUID := src.ShortID(6)
			org := Pick(src, c.Organizations)
			pool := c.drawActorPool(src, makeup.Actors)
			runs := min(1+src.IntN(maxCourseRuns), remaining)

			for run := range runs {
				start := src.TimeBetween(cfg.StartDate.Time, latestStart)
				course := newCourse(courseSpec{
					uuid:      courseUUID,
					run:       run,
					org:       org,
					bucket:    bucket,
					makeup:    makeup,
					start:     start,
					end:       start.Add(cfg.CourseLength()),
					publishes: cfg.NumCoursePublishes,
				})
				course.build(src, len(c.Tags))
				course.enroll(src, pool)
				courses = append(courses, course)
			}

			remaining -= runs
		}
	}

	return courses
}

// drawActorPool returns the first n actors of a seeded permutation of all actors.
func (c *Corpus) drawActorPool(src *Source, n int) []*Actor {
	perm := src.Perm(len(c.Actors))
	pool := make([]*Actor, n)
	for i := range pool {
		pool[i] = &c.Actors[perm[i]]
	}

	return pool
}

// Verify asserts the cross references of the corpus. A failure is an internal bug.
func (c *Corpus) Verify() error {
	if len(c.Courses) != c.Config.TotalCourses() {
		return xapiload.GenerationInvariantError{
			Entity:  "courses",
			Problem: fmt.Sprintf("generated %d courses, configured %d", len(c.Courses), c.Config.TotalCourses()),
		}
	}

	actorIDs := make(map[uuid.UUID]struct{}, len(c.Actors))
	for _, actor := range c.Actors {
		actorIDs[actor.ID] = struct{}{}
	}

	orgIDs := make(map[string]struct{}, len(c.Organizations))
	for _, org := range c.Organizations {
		orgIDs[org.ID] = struct{}{}
	}

	for _, course := range c.Courses {
		if _, ok := orgIDs[course.Org.ID]; !ok {
			return xapiload.GenerationInvariantError{Entity: course.ID, Problem: "unknown organization " + course.Org.ID}
		}

		if course.Start.Before(c.Config.StartDate.Time) || course.End.After(c.Config.EndDate.Time) {
			return xapiload.GenerationInvariantError{Entity: course.ID, Problem: "course window outside the configured date range"}
		}

		for _, enrollment := range course.Enrollments {
			if _, ok := actorIDs[enrollment.Actor.ID]; !ok {
				return xapiload.GenerationInvariantError{Entity: course.ID, Problem: "enrollment of unknown actor " + enrollment.Actor.ID.String()}
			}
		}
	}

	return nil
}

// EnrollmentCount is the number of actor course pairs in the corpus.
func (c *Corpus) EnrollmentCount() int {
	total := 0
	for _, course := range c.Courses {
		total += len(course.Enrollments)
	}

	return total
}
