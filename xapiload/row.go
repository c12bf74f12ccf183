package xapiload

import (
	"time"

	"github.com/google/uuid"
)

// RowKind identifies the homogeneous content of a Batch.
type RowKind string

const (
	RowKindTaxonomy       RowKind = "taxonomy"
	RowKindTag            RowKind = "tag"
	RowKindCourseOverview RowKind = "course_overview"
	RowKindCourseBlock    RowKind = "course_block"
	RowKindObjectTag      RowKind = "object_tag"
	RowKindExternalID     RowKind = "external_id"
	RowKindEnrollment     RowKind = "enrollment"
	RowKindUserProfile    RowKind = "user_profile"
	RowKindXAPIEvent      RowKind = "xapi_event"
)

// Default table names, shared by every backend.
const (
	TableXAPIEvents      = "xapi_events_all"
	TableCourseOverviews = "course_overviews"
	TableCourseBlocks    = "course_blocks"
	TableObjectTags      = "object_tags"
	TableTaxonomies      = "taxonomies"
	TableTags            = "tags"
	TableExternalIDs     = "external_ids"
	TableUserProfiles    = "user_profiles"
)

// RowKinds lists every row kind in the order the seed, profiles and events phases produce them.
func RowKinds() []RowKind {
	return []RowKind{
		RowKindTaxonomy,
		RowKindTag,
		RowKindCourseOverview,
		RowKindCourseBlock,
		RowKindObjectTag,
		RowKindExternalID,
		RowKindEnrollment,
		RowKindUserProfile,
		RowKindXAPIEvent,
	}
}

// Table returns the table (or collection, or file stem) rows of this kind are written to.
// Enrollment statements share the xAPI event table.
func (k RowKind) Table() string {
	switch k {
	case RowKindTaxonomy:
		return TableTaxonomies
	case RowKindTag:
		return TableTags
	case RowKindCourseOverview:
		return TableCourseOverviews
	case RowKindCourseBlock:
		return TableCourseBlocks
	case RowKindObjectTag:
		return TableObjectTags
	case RowKindExternalID:
		return TableExternalIDs
	case RowKindUserProfile:
		return TableUserProfiles
	case RowKindEnrollment, RowKindXAPIEvent:
		return TableXAPIEvents
	default:
		return ""
	}
}

// IsStatement reports whether rows of this kind are XAPIEvent rows.
func (k RowKind) IsStatement() bool {
	return k == RowKindEnrollment || k == RowKindXAPIEvent
}

// Phase names one sequential stage of a run.
type Phase string

const (
	PhasePrepare       Phase = "prepare"
	PhaseSeed          Phase = "seed"
	PhaseProfiles      Phase = "profiles"
	PhaseEvents        Phase = "events"
	PhaseStagedLoad    Phase = "staged_load"
	PhaseDistributions Phase = "distributions"
)

// Row is one record handed to a sink. Columns and Values are parallel slices.
type Row interface {
	Columns() []string
	Values() []any
}

// Batch is an ordered, bounded collection of rows of one kind.
// Seq is unique and monotonically increasing within its phase.
type Batch struct {
	Phase Phase
	Kind  RowKind
	Seq   int
	Rows  []Row
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	return len(b.Rows)
}

// XAPIEvent is an xAPI statement plus the columns extracted from it for indexing.
type XAPIEvent struct {
	EventID          uuid.UUID
	Verb             string
	ActorID          uuid.UUID
	Org              string
	CourseRunID      string
	ProblemID        string
	VideoID          string
	NavStartingPoint string
	NavEndingPoint   string
	EmissionTime     time.Time
	Event            []byte
}

var xapiEventColumns = []string{
	"event_id", "verb", "actor_id", "org", "course_run_id", "problem_id", "video_id",
	"nav_starting_point", "nav_ending_point", "emission_time", "event",
}

func (e XAPIEvent) Columns() []string { return xapiEventColumns }

func (e XAPIEvent) Values() []any {
	return []any{
		e.EventID.String(), e.Verb, e.ActorID.String(), e.Org, e.CourseRunID, e.ProblemID, e.VideoID,
		e.NavStartingPoint, e.NavEndingPoint, e.EmissionTime, string(e.Event),
	}
}

// Taxonomy groups tags.
type Taxonomy struct {
	ID   int64
	Name string
}

var taxonomyColumns = []string{"id", "name"}

func (t Taxonomy) Columns() []string { return taxonomyColumns }

func (t Taxonomy) Values() []any { return []any{t.ID, t.Name} }

// Tag is one node of a taxonomy tree. ParentID is zero for root tags.
type Tag struct {
	ID         int64
	TaxonomyID int64
	ParentID   int64
	Value      string
	ExternalID string
	Lineage    string
}

var tagColumns = []string{"id", "taxonomy", "parent", "value", "external_id", "lineage"}

func (t Tag) Columns() []string { return tagColumns }

func (t Tag) Values() []any {
	return []any{t.ID, t.TaxonomyID, t.ParentID, t.Value, t.ExternalID, t.Lineage}
}

// CourseOverview is one published snapshot of a course's metadata.
type CourseOverview struct {
	Org             string
	CourseKey       string
	DisplayName     string
	CourseStart     time.Time
	CourseEnd       time.Time
	EnrollmentStart time.Time
	EnrollmentEnd   time.Time
	SelfPaced       bool
	CourseDataJSON  string
	Created         time.Time
	Modified        time.Time
	DumpID          uuid.UUID
	DumpTime        time.Time
}

var courseOverviewColumns = []string{
	"org", "course_key", "display_name", "course_start", "course_end", "enrollment_start",
	"enrollment_end", "self_paced", "course_data_json", "created", "modified", "dump_id", "time_last_dumped",
}

func (c CourseOverview) Columns() []string { return courseOverviewColumns }

func (c CourseOverview) Values() []any {
	return []any{
		c.Org, c.CourseKey, c.DisplayName, c.CourseStart, c.CourseEnd, c.EnrollmentStart,
		c.EnrollmentEnd, c.SelfPaced, c.CourseDataJSON, c.Created, c.Modified, c.DumpID.String(), c.DumpTime,
	}
}

// CourseBlock is one published snapshot of a structural element of a course.
type CourseBlock struct {
	Org            string
	CourseKey      string
	Location       string
	DisplayName    string
	XBlockDataJSON string
	Order          int64
	EditedOn       time.Time
	DumpID         uuid.UUID
	DumpTime       time.Time
}

var courseBlockColumns = []string{
	"org", "course_key", "location", "display_name", "xblock_data_json", "order", "edited_on", "dump_id", "time_last_dumped",
}

func (c CourseBlock) Columns() []string { return courseBlockColumns }

func (c CourseBlock) Values() []any {
	return []any{
		c.Org, c.CourseKey, c.Location, c.DisplayName, c.XBlockDataJSON, c.Order, c.EditedOn, c.DumpID.String(), c.DumpTime,
	}
}

// ObjectTag attaches a tag to a course block.
type ObjectTag struct {
	ID         int64
	ObjectID   string
	TaxonomyID int64
	Value      string
	ExportID   string
	Lineage    string
	DumpID     uuid.UUID
	DumpTime   time.Time
}

var objectTagColumns = []string{"id", "object_id", "taxonomy", "value", "export_id", "lineage", "dump_id", "time_last_dumped"}

func (o ObjectTag) Columns() []string { return objectTagColumns }

func (o ObjectTag) Values() []any {
	return []any{o.ID, o.ObjectID, o.TaxonomyID, o.Value, o.ExportID, o.Lineage, o.DumpID.String(), o.DumpTime}
}

// ExternalID maps an xAPI actor id to a platform user.
type ExternalID struct {
	ExternalUserID uuid.UUID
	Type           string
	Username       string
	UserID         int64
	DumpID         uuid.UUID
	DumpTime       time.Time
}

var externalIDColumns = []string{"external_user_id", "external_id_type", "username", "user_id", "dump_id", "time_last_dumped"}

func (x ExternalID) Columns() []string { return externalIDColumns }

func (x ExternalID) Values() []any {
	return []any{x.ExternalUserID.String(), x.Type, x.Username, x.UserID, x.DumpID.String(), x.DumpTime}
}

// UserProfile is one profile-change snapshot of an actor. DumpTime is the change timestamp.
type UserProfile struct {
	ID                     int64
	UserID                 int64
	Name                   string
	Username               string
	Email                  string
	Meta                   string
	Courseware             string
	Language               string
	Location               string
	YearOfBirth            int64
	Gender                 string
	LevelOfEducation       string
	MailingAddress         string
	City                   string
	Country                string
	State                  string
	Goals                  string
	Bio                    string
	ProfileImageUploadedAt string
	PhoneNumber            string
	DumpID                 uuid.UUID
	DumpTime               time.Time
}

var userProfileColumns = []string{
	"id", "user_id", "name", "username", "email", "meta", "courseware", "language", "location",
	"year_of_birth", "gender", "level_of_education", "mailing_address", "city", "country", "state",
	"goals", "bio", "profile_image_uploaded_at", "phone_number", "dump_id", "time_last_dumped",
}

func (u UserProfile) Columns() []string { return userProfileColumns }

func (u UserProfile) Values() []any {
	return []any{
		u.ID, u.UserID, u.Name, u.Username, u.Email, u.Meta, u.Courseware, u.Language, u.Location,
		u.YearOfBirth, u.Gender, u.LevelOfEducation, u.MailingAddress, u.City, u.Country, u.State,
		u.Goals, u.Bio, u.ProfileImageUploadedAt, u.PhoneNumber, u.DumpID.String(), u.DumpTime,
	}
}

// ColumnsOf returns the column list rows of the given kind carry.
func ColumnsOf(kind RowKind) []string {
	switch kind {
	case RowKindTaxonomy:
		return taxonomyColumns
	case RowKindTag:
		return tagColumns
	case RowKindCourseOverview:
		return courseOverviewColumns
	case RowKindCourseBlock:
		return courseBlockColumns
	case RowKindObjectTag:
		return objectTagColumns
	case RowKindExternalID:
		return externalIDColumns
	case RowKindUserProfile:
		return userProfileColumns
	case RowKindEnrollment, RowKindXAPIEvent:
		return xapiEventColumns
	default:
		return nil
	}
}
