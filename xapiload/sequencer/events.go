package sequencer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/corpus"
)

// Verb is an xAPI verb id with its English display name.
type Verb struct {
	ID      string
	Display string
}

var (
	VerbRegistered   = Verb{ID: "http://adlnet.gov/expapi/verbs/registered", Display: "registered"}
	VerbUnregistered = Verb{ID: "http://id.tincanapi.com/verb/unregistered", Display: "unregistered"}
	VerbAttempted    = Verb{ID: "http://adlnet.gov/expapi/verbs/attempted", Display: "attempted"}
	VerbEvaluated    = Verb{ID: "http://adlnet.gov/expapi/verbs/evaluated", Display: "evaluated"}
	VerbNavigated    = Verb{ID: "https://w3id.org/xapi/dod-isd/verbs/navigated", Display: "navigated"}
	VerbInitialized  = Verb{ID: "http://adlnet.gov/expapi/verbs/initialized", Display: "initialized"}
	VerbPlayed       = Verb{ID: "https://w3id.org/xapi/video/verbs/played", Display: "play"}
	VerbTerminated   = Verb{ID: "http://adlnet.gov/expapi/verbs/terminated", Display: "terminated"}
	VerbPaused       = Verb{ID: "https://w3id.org/xapi/video/verbs/paused", Display: "paused"}
	VerbSeeked       = Verb{ID: "https://w3id.org/xapi/video/verbs/seeked", Display: "seeked"}
	VerbCompleted    = Verb{ID: "http://adlnet.gov/expapi/verbs/completed", Display: "completed"}
	VerbPassed       = Verb{ID: "http://adlnet.gov/expapi/verbs/passed", Display: "passed"}
	VerbAsked        = Verb{ID: "http://adlnet.gov/expapi/verbs/asked", Display: "asked"}
	VerbEarned       = Verb{ID: "http://id.tincanapi.com/verb/earned", Display: "earned"}
	VerbInteracted   = Verb{ID: "http://adlnet.gov/expapi/verbs/interacted", Display: "interacted"}
	VerbPosted       = Verb{ID: "https://w3id.org/xapi/acrossx/verbs/posted", Display: "posted"}
)

// EventType is one kind of generated learner interaction.
type EventType int

const (
	CourseGradeCalculated EventType = iota
	PlayedVideo
	NextNavigation
	BrowserProblemCheck
	ServerProblemCheck
	PausedVideo
	LoadedVideo
	CompletedVideo
	PositionChangedVideo
	StoppedVideo
	ShowAnswer
	Registered
	PreviousNavigation
	PostCreated
	Unregistered
	ShowHint
	TranscriptEnabled
	TranscriptDisabled
	FirstTimePassed
	TabSelectedNavigation
	LinkClicked
)

// requirement names the course content an event type needs.
type requirement int

const (
	needsNothing requirement = iota
	needsProblems
	needsVideos
	needsSequentials
	needsForumPosts
)

type eventSpec struct {
	name   string
	weight float64
	verb   Verb
	needs  requirement
	fill   func(d *draw)
}

// eventSpecs is indexed by EventType. Weights are relative frequencies.
var eventSpecs = []eventSpec{
	CourseGradeCalculated: {name: "CourseGradeCalculated", weight: 20.0, verb: VerbEarned, fill: fillGrade},
	PlayedVideo:           {name: "PlayedVideo", weight: 14.019, verb: VerbPlayed, needs: needsVideos, fill: fillVideo},
	NextNavigation:        {name: "NextNavigation", weight: 12.467, verb: VerbNavigated, needs: needsSequentials, fill: fillNavigation("next unit")},
	BrowserProblemCheck:   {name: "BrowserProblemCheck", weight: 9.9, verb: VerbAttempted, needs: needsProblems, fill: fillBrowserProblem},
	ServerProblemCheck:    {name: "ServerProblemCheck", weight: 9.5, verb: VerbEvaluated, needs: needsProblems, fill: fillServerProblem},
	PausedVideo:           {name: "PausedVideo", weight: 8.912, verb: VerbPaused, needs: needsVideos, fill: fillVideo},
	LoadedVideo:           {name: "LoadedVideo", weight: 7.125, verb: VerbInitialized, needs: needsVideos, fill: fillVideo},
	CompletedVideo:        {name: "CompletedVideo", weight: 5.124, verb: VerbCompleted, needs: needsVideos, fill: fillCompletedVideo},
	PositionChangedVideo:  {name: "PositionChangedVideo", weight: 5.105, verb: VerbSeeked, needs: needsVideos, fill: fillVideo},
	StoppedVideo:          {name: "StoppedVideo", weight: 3.671, verb: VerbTerminated, needs: needsVideos, fill: fillVideo},
	ShowAnswer:            {name: "ShowAnswer", weight: 1.373, verb: VerbAsked, needs: needsProblems, fill: fillAnswer},
	Registered:            {name: "Registered", weight: 1.138, verb: VerbRegistered, fill: fillRegistration},
	PreviousNavigation:    {name: "PreviousNavigation", weight: 0.811, verb: VerbNavigated, needs: needsSequentials, fill: fillNavigation("previous unit")},
	PostCreated:           {name: "PostCreated", weight: 0.5, verb: VerbPosted, needs: needsForumPosts, fill: fillForumPost},
	Unregistered:          {name: "Unregistered", weight: 0.146, verb: VerbUnregistered, fill: fillRegistration},
	ShowHint:              {name: "ShowHint", weight: 0.076, verb: VerbAsked, needs: needsProblems, fill: fillHint},
	TranscriptEnabled:     {name: "TranscriptEnabled", weight: 0.05, verb: VerbInteracted, needs: needsVideos, fill: fillTranscript(true)},
	TranscriptDisabled:    {name: "TranscriptDisabled", weight: 0.05, verb: VerbInteracted, needs: needsVideos, fill: fillTranscript(false)},
	FirstTimePassed:       {name: "FirstTimePassed", weight: 0.031, verb: VerbPassed, fill: fillPassed},
	TabSelectedNavigation: {name: "TabSelectedNavigation", weight: 0.001, verb: VerbNavigated, needs: needsSequentials, fill: fillTabSelected},
	LinkClicked:           {name: "LinkClicked", weight: 0.001, verb: VerbNavigated, fill: fillLink},
}

func (t EventType) String() string {
	if int(t) < 0 || int(t) >= len(eventSpecs) {
		return "EventType(" + strconv.Itoa(int(t)) + ")"
	}

	return eventSpecs[t].name
}

// Weight returns the relative frequency of the event type.
func (t EventType) Weight() float64 {
	return eventSpecs[t].weight
}

// EventTypes lists every event type.
func EventTypes() []EventType {
	types := make([]EventType, len(eventSpecs))
	for i := range types {
		types[i] = EventType(i)
	}

	return types
}

// Supports reports whether the course has the content the event type targets.
func (t EventType) Supports(course *corpus.Course) bool {
	switch eventSpecs[t].needs {
	case needsProblems:
		return len(course.Problems) > 0
	case needsVideos:
		return len(course.Videos) > 0
	case needsSequentials:
		return len(course.Sequentials) > 0
	case needsForumPosts:
		return len(course.ForumPosts) > 0
	default:
		return true
	}
}

// typeChooser draws event types by weight, restricted to the types a course supports.
type typeChooser struct {
	types      []EventType
	cumulative []float64
}

func newTypeChooser(course *corpus.Course) typeChooser {
	var chooser typeChooser
	total := 0.0

	for _, t := range EventTypes() {
		if !t.Supports(course) {
			continue
		}

		total += t.Weight()
		chooser.types = append(chooser.types, t)
		chooser.cumulative = append(chooser.cumulative, total)
	}

	return chooser
}

func (c typeChooser) choose(src *corpus.Source) EventType {
	target := src.Float64() * c.cumulative[len(c.cumulative)-1]
	for i, bound := range c.cumulative {
		if target < bound {
			return c.types[i]
		}
	}

	return c.types[len(c.types)-1]
}

// draw carries the state one event is built from.
type draw struct {
	src       *corpus.Source
	course    *corpus.Course
	actor     *corpus.Actor
	at        time.Time
	statement *statement
	row       *xapiload.XAPIEvent
}

// buildEvent builds the statement and row of one event of type t. Structure ids are taken from
// the part of the course that is published at the emission time.
func buildEvent(src *corpus.Source, t EventType, course *corpus.Course, actor *corpus.Actor, at time.Time) (xapiload.XAPIEvent, error) {
	spec := eventSpecs[t]
	eventID := src.UUID()

	st := newStatement(eventID.String(), actor, spec.verb, course, at)
	row := xapiload.XAPIEvent{
		EventID:      eventID,
		Verb:         spec.verb.ID,
		ActorID:      actor.ID,
		Org:          course.Org.ID,
		CourseRunID:  course.URL,
		EmissionTime: at,
	}

	spec.fill(&draw{src: src, course: course, actor: actor, at: at, statement: &st, row: &row})

	encoded, err := statementJSON.Marshal(st)
	if err != nil {
		return xapiload.XAPIEvent{}, fmt.Errorf("encoding %s statement: %w", spec.name, err)
	}
	row.Event = encoded

	return row, nil
}

// buildEnrollment builds the registration statement emitted when an actor enrolls.
func buildEnrollment(src *corpus.Source, course *corpus.Course, enrollment corpus.Enrollment) (xapiload.XAPIEvent, error) {
	return buildEvent(src, Registered, course, enrollment.Actor, enrollment.Time)
}

func (d *draw) visible(ids []string) string {
	return corpus.Pick(d.src, d.course.Visible(ids, d.at))
}

func fillGrade(d *draw) {
	scaled := float64(d.src.IntN(101)) / 100
	d.statement.Object = activity{
		ID:         d.course.URL,
		ObjectType: objectTypeActive,
		Definition: &definition{Type: activityCourse, Name: map[string]string{"en-US": d.course.Name}},
	}
	d.statement.Result = &result{
		Score:   &score{Scaled: scaled, Raw: scaled * 100, Min: 0, Max: 100},
		Success: boolPtr(scaled >= 0.5),
	}
}

func fillPassed(d *draw) {
	d.statement.Object = activity{
		ID:         d.course.URL,
		ObjectType: objectTypeActive,
		Definition: &definition{Type: activityCourse, Extensions: map[string]any{}},
	}
	d.statement.Result = &result{Success: boolPtr(true)}
}

func fillRegistration(d *draw) {
	d.statement.Object = activity{
		ID:         d.course.URL,
		ObjectType: objectTypeActive,
		Definition: &definition{
			Type:       activityCourse,
			Name:       map[string]string{"en": d.course.Name},
			Extensions: map[string]any{extEnrollType: corpus.Pick(d.src, []string{"audit", "honor", "verified"})},
		},
	}
}

func fillBrowserProblem(d *draw) {
	problemID := d.visible(d.course.Problems)
	d.row.ProblemID = problemID
	d.statement.Object = activity{
		ID:         problemID,
		ObjectType: objectTypeActive,
		Definition: &definition{Type: activityInteraction},
	}
}

func fillServerProblem(d *draw) {
	problemID := d.visible(d.course.Problems)
	raw := float64(d.src.IntN(2))
	d.row.ProblemID = problemID
	d.statement.Object = activity{
		ID:         problemID,
		ObjectType: objectTypeActive,
		Definition: &definition{
			Type:            activityInteraction,
			Description:     map[string]string{"en-US": "Add the question text, or prompt, here. This text is required."},
			InteractionType: "other",
			Extensions:      map[string]any{extAttemptID: 1 + d.src.IntN(10)},
		},
	}
	d.statement.Result = &result{
		Response: corpus.Pick(d.src, []string{"A correct answer", "An incorrect answer"}),
		Score:    &score{Scaled: raw, Raw: raw, Min: 0, Max: 1},
		Success:  boolPtr(false),
	}
}

func fillHint(d *draw) {
	problemID := d.visible(d.course.Problems)
	d.row.ProblemID = problemID
	d.statement.Object = activity{
		ID:         problemID + "/hint/1",
		ObjectType: objectTypeActive,
		Definition: &definition{Type: activitySupplemental},
	}
}

func fillAnswer(d *draw) {
	problemID := d.visible(d.course.Problems)
	d.row.ProblemID = problemID
	d.statement.Object = activity{
		ID:         problemID + "/answer",
		ObjectType: objectTypeActive,
		Definition: &definition{Type: activitySolution},
	}
}

func videoObject(d *draw) activity {
	videoID := d.visible(d.course.Videos)
	d.row.VideoID = videoID
	d.statement.Context.Extensions[extVideoLength] = videoLengthSeconds

	return activity{
		ID:         videoID,
		ObjectType: objectTypeActive,
		Definition: &definition{Type: activityVideo},
	}
}

func videoPosition(d *draw) float64 {
	return float64(d.src.IntN(int(videoLengthSeconds*1000))) / 1000
}

func fillVideo(d *draw) {
	d.statement.Object = videoObject(d)
	d.statement.Result = &result{Extensions: map[string]any{extVideoTime: videoPosition(d)}}
}

func fillCompletedVideo(d *draw) {
	d.statement.Object = videoObject(d)
	d.statement.Result = &result{
		Completion: boolPtr(true),
		Extensions: map[string]any{extVideoTime: videoLengthSeconds},
	}
}

func fillTranscript(enabled bool) func(d *draw) {
	return func(d *draw) {
		d.statement.Object = videoObject(d)
		d.statement.Context.Extensions[extVideoCC] = enabled
		d.statement.Result = &result{Extensions: map[string]any{extVideoTime: videoPosition(d)}}
	}
}

// navPoint draws a navigation position in [1, items).
func (d *draw) navPoint() int {
	return 1 + d.src.IntN(max(d.course.NavItems()-1, 1))
}

func fillNavigation(toLocation string) func(d *draw) {
	return func(d *draw) {
		start, end := d.navPoint(), d.navPoint()
		d.row.NavStartingPoint = strconv.Itoa(start)
		d.row.NavEndingPoint = strconv.Itoa(end)
		d.statement.Object = activity{
			ID:         d.visible(d.course.Sequentials),
			ObjectType: objectTypeActive,
			Definition: &definition{
				Type:       activityLesson,
				Extensions: map[string]any{extTotalItems: d.course.NavItems()},
			},
		}
		d.statement.Context.Extensions[extStartingPt] = d.row.NavStartingPoint
		d.statement.Context.Extensions[extEndingPt] = d.row.NavEndingPoint
		d.statement.Context.Extensions[extToLocation] = toLocation
	}
}

func fillTabSelected(d *draw) {
	fillNavigation("tab")(d)
}

func fillLink(d *draw) {
	d.statement.Object = activity{
		ID:         fmt.Sprintf("https://example.com/%s", d.src.ShortID(8)),
		ObjectType: objectTypeActive,
		Definition: &definition{Type: activityLink},
	}
}

func fillForumPost(d *draw) {
	d.statement.Object = activity{
		ID:         d.visible(d.course.ForumPosts),
		ObjectType: objectTypeActive,
		Definition: &definition{Type: activityDiscussion},
	}
}
