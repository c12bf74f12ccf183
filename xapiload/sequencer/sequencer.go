// Package sequencer turns a generated corpus into the rows of each phase: metadata and
// enrollment statements for the seed phase, user profile snapshots, and the timed learner events.
//
// Each phase draws from its own seeded stream, so a phase produces identical rows no matter
// whether the phases before it ran in the same process.
package sequencer

import (
	"math"
	"sort"
	"time"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/corpus"
)

// Emit receives the rows of a phase in generation order.
// A non-nil error stops the phase and is returned unchanged.
type Emit func(kind xapiload.RowKind, row xapiload.Row) error

// Sequencer produces the rows of one corpus.
type Sequencer struct {
	corpus *corpus.Corpus
	cfg    xapiload.Config
}

func New(c *corpus.Corpus) *Sequencer {
	return &Sequencer{corpus: c, cfg: c.Config}
}

// Events emits exactly the configured number of learner events as xapi_event rows.
//
// The events are apportioned over all enrollments, each enrollment owning a time cursor that only
// moves forward inside [enrollment time, course end]. Every emitted event advances one cursor, so
// events of one (actor, course) pair are emitted in non-decreasing time order.
func (s *Sequencer) Events(emit Emit) error {
	src := corpus.NewSource(s.cfg.Seed, corpus.StreamEvents)
	active := s.allocate(src, s.cfg.TotalEvents())

	for len(active) > 0 {
		i := src.IntN(len(active))
		stream := active[i]

		at := stream.advance(src)
		row, err := buildEvent(src, stream.chooser.choose(src), stream.course, stream.enrollment.Actor, at)
		if err != nil {
			return err
		}

		if err := emit(xapiload.RowKindXAPIEvent, row); err != nil {
			return err
		}

		if stream.remaining == 0 {
			active[i] = active[len(active)-1]
			active = active[:len(active)-1]
		}
	}

	return nil
}

// enrollmentStream is the event cursor of one enrollment.
type enrollmentStream struct {
	course     *corpus.Course
	enrollment corpus.Enrollment
	chooser    typeChooser
	cursor     time.Time
	remaining  int
}

// advance draws the next emission time. The step is the minimum of `remaining` uniform draws over
// what is left of the window, which spreads the remaining events evenly in expectation.
func (e *enrollmentStream) advance(src *corpus.Source) time.Time {
	left := float64(e.course.End.Sub(e.cursor))
	u := 1 - src.Float64()
	step := left * (1 - math.Pow(u, 1/float64(e.remaining)))

	e.cursor = e.cursor.Add(time.Duration(step)).Truncate(time.Microsecond)
	if e.cursor.After(e.course.End) {
		e.cursor = e.course.End
	}
	e.remaining--

	return e.cursor
}

// allocate apportions total events over all enrollments by random engagement weights in [0.5, 1.5),
// using largest remainders so that the shares sum to total exactly. Enrollments with no share
// are dropped.
func (s *Sequencer) allocate(src *corpus.Source, total int) []*enrollmentStream {
	var streams []*enrollmentStream
	var weights []float64
	sum := 0.0

	for _, course := range s.corpus.Courses {
		chooser := newTypeChooser(course)
		for _, enrollment := range course.Enrollments {
			w := 0.5 + src.Float64()
			weights = append(weights, w)
			sum += w
			streams = append(streams, &enrollmentStream{
				course:     course,
				enrollment: enrollment,
				chooser:    chooser,
				cursor:     enrollment.Time,
			})
		}
	}

	if len(streams) == 0 || total == 0 {
		return nil
	}

	fractions := make([]float64, len(streams))
	assigned := 0
	for i, w := range weights {
		quota := float64(total) * w / sum
		whole := math.Floor(quota)
		streams[i].remaining = int(whole)
		fractions[i] = quota - whole
		assigned += int(whole)
	}

	order := make([]int, len(streams))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return fractions[order[a]] > fractions[order[b]] })

	for i := 0; assigned < total; i++ {
		streams[order[i%len(order)]].remaining++
		assigned++
	}

	active := streams[:0]
	for _, stream := range streams {
		if stream.remaining > 0 {
			active = append(active, stream)
		}
	}

	return active
}
