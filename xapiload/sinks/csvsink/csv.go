package csvsink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	fileSuffix = ".csv.gz"
	timeLayout = "2006-01-02 15:04:05.000000-07:00"

	logMsgFileOpened   = "csv: file opened"
	logMsgBatchWritten = "csv: batch written"
	logAttrPath        = "path"
	logAttrSeq         = "seq"
	logAttrRows        = "rows"
)

// ErrNotPrepared is returned when a batch arrives before Prepare opened the output files.
var ErrNotPrepared = errors.New("csv output files are not open, call Prepare first")

// fileStems maps row kinds to output files. Statement rows of both kinds share xapi.csv.gz,
// which only carries the event id, the emission time and the statement.
var fileStems = map[xapiload.RowKind]string{
	xapiload.RowKindEnrollment:     "xapi",
	xapiload.RowKindXAPIEvent:      "xapi",
	xapiload.RowKindCourseOverview: "courses",
	xapiload.RowKindCourseBlock:    "blocks",
	xapiload.RowKindObjectTag:      "object_tags",
	xapiload.RowKindTaxonomy:       "taxonomies",
	xapiload.RowKindTag:            "tags",
	xapiload.RowKindExternalID:     "external_ids",
	xapiload.RowKindUserProfile:    "user_profiles",
}

// Stems lists the output file stems in a stable order.
func Stems() []string {
	return []string{"xapi", "courses", "blocks", "object_tags", "taxonomies", "tags", "external_ids", "user_profiles"}
}

type outputFile struct {
	mu   sync.Mutex
	file *os.File
	gz   *gzip.Writer
}

// Sink writes gzip-compressed CSV files without a header row, one file per stem.
type Sink struct {
	destination string
	logger      xapiload.Logger

	mu    sync.RWMutex
	files map[string]*outputFile
}

// Option defines a functional option for configuring Sink.
type Option func(*Sink) error

// WithLogger sets the logger for the Sink.
func WithLogger(logger xapiload.Logger) Option {
	return func(s *Sink) error {
		s.logger = logger
		return nil
	}
}

// New creates a Sink writing into the destination directory.
func New(destination string, options ...Option) (*Sink, error) {
	if destination == "" {
		return nil, xapiload.ConfigurationError{Field: "csv_output_destination", Problem: "must not be empty"}
	}

	s := &Sink{destination: destination}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Path returns the file a stem is written to.
func (s *Sink) Path(stem string) string {
	return filepath.Join(s.destination, stem+fileSuffix)
}

// Prepare creates the destination directory and truncates every output file.
// Files are always recreated, so dropTablesFirst makes no difference.
func (s *Sink) Prepare(_ context.Context, _ bool) error {
	if err := os.MkdirAll(s.destination, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.destination, err)
	}

	files := make(map[string]*outputFile, len(Stems()))
	for _, stem := range Stems() {
		file, err := os.Create(s.Path(stem))
		if err != nil {
			return errors.Join(fmt.Errorf("creating %s: %w", s.Path(stem), err), closeAll(files))
		}

		files[stem] = &outputFile{file: file, gz: gzip.NewWriter(file)}
		s.logDebug(logMsgFileOpened, logAttrPath, file.Name())
	}

	s.mu.Lock()
	s.files = files
	s.mu.Unlock()

	return nil
}

// WriteBatch renders the whole batch first and appends it to its file in one write.
func (s *Sink) WriteBatch(_ context.Context, batch xapiload.Batch) error {
	stem, ok := fileStems[batch.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", xapiload.ErrUnsupportedRowKind, batch.Kind)
	}

	s.mu.RLock()
	out := s.files[stem]
	s.mu.RUnlock()

	if out == nil {
		return ErrNotPrepared
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range batch.Rows {
		if err := w.Write(record(row)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	out.mu.Lock()
	_, err := out.gz.Write(buf.Bytes())
	out.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing %s: %w", s.Path(stem), err)
	}

	s.logDebug(logMsgBatchWritten, logAttrPath, s.Path(stem), logAttrSeq, batch.Seq, logAttrRows, batch.Len())

	return nil
}

// Close finishes every gzip stream and closes the files so that they are readable on import.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := closeAll(s.files)
	s.files = nil

	return err
}

func closeAll(files map[string]*outputFile) error {
	var errs []error
	for _, out := range files {
		out.mu.Lock()
		errs = append(errs, out.gz.Close(), out.file.Close())
		out.mu.Unlock()
	}

	return errors.Join(errs...)
}

// record renders one row. Statement rows keep only event_id, emission_time and event.
func record(row xapiload.Row) []string {
	if event, ok := row.(xapiload.XAPIEvent); ok {
		return []string{event.EventID.String(), event.EmissionTime.UTC().Format(timeLayout), string(event.Event)}
	}

	values := row.Values()
	fields := make([]string, len(values))
	for i, value := range values {
		fields[i] = format(value)
	}

	return fields
}

func format(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(timeLayout)
	default:
		return fmt.Sprint(v)
	}
}

func (s *Sink) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
