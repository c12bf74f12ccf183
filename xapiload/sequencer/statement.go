package sequencer

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/corpus"
)

const (
	xapiVersion      = "1.0.3"
	objectTypeAgent  = "Agent"
	objectTypeActive = "Activity"
	timestampLayout  = "2006-01-02T15:04:05.000000Z07:00"

	extEventVersion = "https://github.com/openedx/event-routing-backends/blob/master/docs/xapi-extensions/eventVersion.rst"
	extVideoLength  = "https://w3id.org/xapi/video/extensions/length"
	extVideoTime    = "https://w3id.org/xapi/video/extensions/time"
	extVideoCC      = "https://w3id.org/xapi/video/extensions/cc-enabled"
	extTotalItems   = "https://w3id.org/xapi/acrossx/extensions/total-items"
	extEnrollType   = "https://w3id.org/xapi/acrossx/extensions/type"
	extAttemptID    = "http://id.tincanapi.com/extension/attempt-id"
	extStartingPt   = "http://id.tincanapi.com/extension/starting-point"
	extEndingPt     = "http://id.tincanapi.com/extension/ending-point"
	extToLocation   = "https://w3id.org/xapi/dod-isd/extensions/to-location"

	activityCourse        = "http://adlnet.gov/expapi/activities/course"
	activityInteraction   = "http://adlnet.gov/expapi/activities/cmi.interaction"
	activityVideo         = "https://w3id.org/xapi/video/activity-type/video"
	activityLesson        = "http://adlnet.gov/expapi/activities/lesson"
	activityLink          = "http://adlnet.gov/expapi/activities/link"
	activitySupplemental  = "https://w3id.org/xapi/acrossx/extensions/supplemental-info"
	activitySolution      = "http://id.tincanapi.com/activitytype/solution"
	activityDiscussion    = "http://id.tincanapi.com/activitytype/discussion"
	activityCourseDisplay = "Demonstration Course"

	videoLengthSeconds = 195.0
)

// statementJSON keeps map keys sorted so that encoded statements are byte-for-byte reproducible.
var statementJSON = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

type statement struct {
	ID        string      `json:"id"`
	Actor     agent       `json:"actor"`
	Verb      verb        `json:"verb"`
	Object    activity    `json:"object"`
	Result    *result     `json:"result,omitempty"`
	Context   stmtContext `json:"context"`
	Timestamp string      `json:"timestamp"`
	Version   string      `json:"version"`
}

type agent struct {
	ObjectType string  `json:"objectType"`
	Account    account `json:"account"`
}

type account struct {
	HomePage string `json:"homePage"`
	Name     string `json:"name"`
}

type verb struct {
	ID      string            `json:"id"`
	Display map[string]string `json:"display"`
}

type activity struct {
	ID         string      `json:"id"`
	ObjectType string      `json:"objectType"`
	Definition *definition `json:"definition,omitempty"`
}

type definition struct {
	Type            string            `json:"type,omitempty"`
	Name            map[string]string `json:"name,omitempty"`
	Description     map[string]string `json:"description,omitempty"`
	InteractionType string            `json:"interactionType,omitempty"`
	Extensions      map[string]any    `json:"extensions,omitempty"`
}

type result struct {
	Score      *score         `json:"score,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	Completion *bool          `json:"completion,omitempty"`
	Response   string         `json:"response,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type score struct {
	Scaled float64 `json:"scaled"`
	Raw    float64 `json:"raw"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type stmtContext struct {
	ContextActivities contextActivities `json:"contextActivities"`
	Extensions        map[string]any    `json:"extensions"`
}

type contextActivities struct {
	Parent []activity `json:"parent"`
}

// newStatement fills the parts every statement shares: actor, verb, course parent and timestamp.
func newStatement(id string, actor *corpus.Actor, v Verb, course *corpus.Course, at time.Time) statement {
	return statement{
		ID: id,
		Actor: agent{
			ObjectType: objectTypeAgent,
			Account:    account{HomePage: corpus.BaseURL, Name: actor.ID.String()},
		},
		Verb: verb{ID: v.ID, Display: map[string]string{"en": v.Display}},
		Context: stmtContext{
			ContextActivities: contextActivities{Parent: []activity{courseActivity(course)}},
			Extensions:        map[string]any{extEventVersion: "1.0"},
		},
		Timestamp: at.UTC().Format(timestampLayout),
		Version:   xapiVersion,
	}
}

func courseActivity(course *corpus.Course) activity {
	return activity{
		ID:         course.URL,
		ObjectType: objectTypeActive,
		Definition: &definition{
			Type: activityCourse,
			Name: map[string]string{"en-US": activityCourseDisplay},
		},
	}
}

func boolPtr(b bool) *bool {
	return &b
}
