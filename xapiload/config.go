package xapiload

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported backend names.
const (
	BackendClickHouse = "clickhouse"
	BackendCHDB       = "chdb"
	BackendCSV        = "csv"
	BackendRalph      = "ralph"
	BackendMongo      = "mongo"
	BackendCitus      = "citus"
	BackendPostgres   = "postgres"
)

// Supported PostgreSQL client adapters.
const (
	DBAdapterPGX  = "pgx"
	DBAdapterSQL  = "sql"
	DBAdapterSQLX = "sqlx"
)

const dateLayout = "2006-01-02"

// canonicalBuckets fixes the processing order of the well-known size buckets.
var canonicalBuckets = []string{"small", "medium", "large", "huge"}

// Date is a calendar day decoded from a YYYY-MM-DD YAML scalar. It is always UTC midnight.
type Date struct {
	time.Time
}

// NewDate builds a Date from year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}

	return Date{Time: t.UTC()}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDate(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}

	*d = parsed

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Date) MarshalYAML() (any, error) {
	return d.Format(dateLayout), nil
}

// CourseSizeMakeup holds the structural counts for one size bucket.
type CourseSizeMakeup struct {
	Actors     int `yaml:"actors"`
	Chapters   int `yaml:"chapters"`
	Sequences  int `yaml:"sequences"`
	Verticals  int `yaml:"verticals"`
	Problems   int `yaml:"problems"`
	Videos     int `yaml:"videos"`
	ForumPosts int `yaml:"forum_posts"`
}

// Config is the run configuration. It is treated as an immutable value once validated
// and is passed by value to every component that needs it.
type Config struct {
	Backend    string `yaml:"backend"`
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUsername string `yaml:"db_username"`
	DBPassword string `yaml:"db_password"`
	DBAdapter  string `yaml:"db_adapter"`

	LRSURL      string `yaml:"lrs_url"`
	LRSUsername string `yaml:"lrs_username"`
	LRSPassword string `yaml:"lrs_password"`

	NumWorkers     int `yaml:"num_workers"`
	NumXAPIBatches int `yaml:"num_xapi_batches"`
	BatchSize      int `yaml:"batch_size"`

	StartDate        Date `yaml:"start_date"`
	EndDate          Date `yaml:"end_date"`
	CourseLengthDays int  `yaml:"course_length_days"`

	NumOrganizations       int                         `yaml:"num_organizations"`
	NumActors              int                         `yaml:"num_actors"`
	NumActorProfileChanges int                         `yaml:"num_actor_profile_changes"`
	NumCourseSizes         map[string]int              `yaml:"num_course_sizes"`
	NumCoursePublishes     int                         `yaml:"num_course_publishes"`
	CourseSizeMakeup       map[string]CourseSizeMakeup `yaml:"course_size_makeup"`

	DropTablesFirst     bool `yaml:"drop_tables_first"`
	DistributionsOnly   bool `yaml:"distributions_only"`
	LoadDBOnly          bool `yaml:"load_db_only"`
	ReportDistributions bool `yaml:"report_distributions"`

	S3Bucket        string `yaml:"s3_bucket"`
	S3Prefix        string `yaml:"s3_prefix"`
	S3Key           string `yaml:"s3_key"`
	S3Secret        string `yaml:"s3_secret"`
	S3Region        string `yaml:"s3_region"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	LoadFromS3After bool   `yaml:"load_from_s3_after"`

	CSVOutputDestination string `yaml:"csv_output_destination"`
	LogDir               string `yaml:"log_dir"`

	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns a Config populated with the defaults applied before a YAML file is decoded.
func DefaultConfig() Config {
	return Config{
		Backend:                BackendClickHouse,
		DBHost:                 "localhost",
		DBPort:                 9000,
		DBName:                 "xapi",
		DBUsername:             "default",
		DBAdapter:              DBAdapterPGX,
		NumWorkers:             4,
		NumXAPIBatches:         10,
		BatchSize:              100,
		StartDate:              NewDate(2014, time.January, 1),
		EndDate:                NewDate(2023, time.November, 27),
		CourseLengthDays:       120,
		NumOrganizations:       3,
		NumActors:              10,
		NumActorProfileChanges: 1,
		NumCourseSizes:         map[string]int{"small": 1},
		NumCoursePublishes:     3,
		CourseSizeMakeup: map[string]CourseSizeMakeup{
			"small": {Actors: 5, Chapters: 3, Sequences: 10, Verticals: 20, Problems: 20, Videos: 10, ForumPosts: 5},
		},
		S3Region:        "us-east-1",
		LoadFromS3After: true,
		Seed:            1,
	}
}

// LoadConfig reads and parses a YAML configuration file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration bytes on top of DefaultConfig.
// Mappings present in the document replace the default mappings instead of being merged into them.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	var probe struct {
		NumCourseSizes   map[string]int              `yaml:"num_course_sizes"`
		CourseSizeMakeup map[string]CourseSizeMakeup `yaml:"course_size_makeup"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	if probe.NumCourseSizes != nil {
		cfg.NumCourseSizes = nil
	}

	if probe.CourseSizeMakeup != nil {
		cfg.CourseSizeMakeup = nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks every parameter and returns all problems joined together.
// Each joined error is a ConfigurationError.
func (c Config) Validate() error {
	var errs []error

	fail := func(field, problem string, args ...any) {
		errs = append(errs, ConfigurationError{Field: field, Problem: fmt.Sprintf(problem, args...)})
	}

	if !slices.Contains(Backends(), c.Backend) {
		fail("backend", "unknown backend %q", c.Backend)
	}

	if c.NumWorkers < 1 {
		fail("num_workers", "must be at least 1, got %d", c.NumWorkers)
	}

	if c.BatchSize < 1 {
		fail("batch_size", "must be at least 1, got %d", c.BatchSize)
	}

	if c.NumXAPIBatches < 0 {
		fail("num_xapi_batches", "must not be negative, got %d", c.NumXAPIBatches)
	}

	if c.NumOrganizations < 1 {
		fail("num_organizations", "must be at least 1, got %d", c.NumOrganizations)
	}

	if c.NumActors < 1 {
		fail("num_actors", "must be at least 1, got %d", c.NumActors)
	}

	if c.NumActorProfileChanges < 0 {
		fail("num_actor_profile_changes", "must not be negative, got %d", c.NumActorProfileChanges)
	}

	if c.NumCoursePublishes < 0 {
		fail("num_course_publishes", "must not be negative, got %d", c.NumCoursePublishes)
	}

	if c.CourseLengthDays < 1 {
		fail("course_length_days", "must be at least 1, got %d", c.CourseLengthDays)
	}

	if !c.StartDate.Before(c.EndDate.Time) {
		fail("start_date", "%s must be before end_date %s", c.StartDate.Format(dateLayout), c.EndDate.Format(dateLayout))
	} else if c.CourseLengthDays >= c.SpanDays() {
		fail("course_length_days", "%d days does not fit into the %d day date range", c.CourseLengthDays, c.SpanDays())
	}

	enrollable := 0
	for _, bucket := range c.Buckets() {
		count := c.NumCourseSizes[bucket]
		if count < 0 {
			fail("num_course_sizes."+bucket, "must not be negative, got %d", count)
			continue
		}

		makeup, ok := c.CourseSizeMakeup[bucket]
		if !ok {
			fail("num_course_sizes."+bucket, "bucket is missing from course_size_makeup")
			continue
		}

		if makeup.Actors > c.NumActors {
			fail("course_size_makeup."+bucket+".actors", "%d exceeds num_actors %d", makeup.Actors, c.NumActors)
		}

		if makeup.Actors < 0 || makeup.Chapters < 0 || makeup.Sequences < 0 || makeup.Verticals < 0 ||
			makeup.Problems < 0 || makeup.Videos < 0 || makeup.ForumPosts < 0 {
			fail("course_size_makeup."+bucket, "counts must not be negative")
		}

		if count > 0 && makeup.Actors > 0 {
			enrollable += count
		}
	}

	if c.TotalEvents() > 0 && enrollable == 0 {
		fail("num_course_sizes", "%d events requested but no course has enrolled actors", c.TotalEvents())
	}

	if !slices.Contains([]string{DBAdapterPGX, DBAdapterSQL, DBAdapterSQLX}, c.DBAdapter) {
		fail("db_adapter", "unknown adapter %q", c.DBAdapter)
	}

	errs = append(errs, c.validateBackendKeys()...)

	return errors.Join(errs...)
}

func (c Config) validateBackendKeys() []error {
	var errs []error

	require := func(field, value string) {
		if value == "" {
			errs = append(errs, ConfigurationError{Field: field, Problem: "required for backend " + c.Backend})
		}
	}

	switch c.Backend {
	case BackendCHDB:
		require("s3_bucket", c.S3Bucket)
		require("s3_key", c.S3Key)
		require("s3_secret", c.S3Secret)
	case BackendCSV:
		require("csv_output_destination", c.CSVOutputDestination)
	case BackendRalph:
		require("lrs_url", c.LRSURL)
	}

	if c.LoadDBOnly && c.Backend != BackendCHDB {
		errs = append(errs, ConfigurationError{Field: "load_db_only", Problem: "requires a staging backend, got " + c.Backend})
	}

	if c.LoadDBOnly && c.DistributionsOnly {
		errs = append(errs, ConfigurationError{Field: "load_db_only", Problem: "cannot be combined with distributions_only"})
	}

	return errs
}

// Backends lists the supported backend names.
func Backends() []string {
	return []string{BackendClickHouse, BackendCHDB, BackendCSV, BackendRalph, BackendMongo, BackendCitus, BackendPostgres}
}

// Buckets returns the configured size buckets in canonical order:
// small, medium, large, huge, then any other bucket alphabetically.
func (c Config) Buckets() []string {
	buckets := make([]string, 0, len(c.NumCourseSizes))
	for _, name := range canonicalBuckets {
		if _, ok := c.NumCourseSizes[name]; ok {
			buckets = append(buckets, name)
		}
	}

	var others []string
	for name := range c.NumCourseSizes {
		if !slices.Contains(canonicalBuckets, name) {
			others = append(others, name)
		}
	}
	sort.Strings(others)

	return append(buckets, others...)
}

// TotalCourses is the number of courses the generator must produce.
func (c Config) TotalCourses() int {
	total := 0
	for _, count := range c.NumCourseSizes {
		total += count
	}

	return total
}

// TotalEvents is the number of random xAPI event rows the events phase must produce.
func (c Config) TotalEvents() int {
	return c.NumXAPIBatches * c.BatchSize
}

// SpanDays is the number of whole days between StartDate and EndDate.
func (c Config) SpanDays() int {
	return int(c.EndDate.Sub(c.StartDate.Time).Hours() / 24)
}

// CourseLength is CourseLengthDays as a duration.
func (c Config) CourseLength() time.Duration {
	return time.Duration(c.CourseLengthDays) * 24 * time.Hour
}
