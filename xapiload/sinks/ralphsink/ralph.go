package ralphsink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	defaultTimeout  = 60 * time.Second
	maxErrorBodyLen = 512

	logMsgStatementsPosted = "ralph: statements posted"
	logMsgPostFailed       = "ralph: post failed"
	logAttrURL             = "url"
	logAttrStatus          = "status"
	logAttrSeq             = "seq"
	logAttrStatements      = "statements"
	logAttrDurationMS      = "duration_ms"
	logAttrError           = "error"
)

// Settings locates the learning record store.
type Settings struct {
	URL      string
	Username string
	Password string
}

// SettingsFromConfig picks the lrs_* keys out of cfg.
func SettingsFromConfig(cfg xapiload.Config) Settings {
	return Settings{URL: cfg.LRSURL, Username: cfg.LRSUsername, Password: cfg.LRSPassword}
}

// Sink POSTs statement batches to a Ralph LRS and hands every other row kind to a metadata sink,
// since the LRS only stores statements.
type Sink struct {
	settings Settings
	client   *http.Client
	metadata xapiload.Sink
	logger   xapiload.Logger
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

// WithHTTPClient replaces the default client, which times out after a minute.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sink) error {
		s.client = client
		return nil
	}
}

// New creates a Sink. metadata receives Prepare, Close and all non-statement batches.
func New(settings Settings, metadata xapiload.Sink, options ...Option) (*Sink, error) {
	if settings.URL == "" {
		return nil, xapiload.ConfigurationError{Field: "lrs_url", Problem: "must not be empty"}
	}

	if metadata == nil {
		return nil, xapiload.ErrMissingMetadataDestination
	}

	s := &Sink{
		settings: settings,
		client:   &http.Client{Timeout: defaultTimeout},
		metadata: metadata,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Prepare prepares the metadata sink.
func (s *Sink) Prepare(ctx context.Context, dropTablesFirst bool) error {
	return s.metadata.Prepare(ctx, dropTablesFirst)
}

// WriteBatch posts statement batches as one JSON array and delegates everything else.
func (s *Sink) WriteBatch(ctx context.Context, batch xapiload.Batch) error {
	if !batch.Kind.IsStatement() {
		return s.metadata.WriteBatch(ctx, batch)
	}

	if batch.Len() == 0 {
		return nil
	}

	body := statementArray(batch.Rows)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.settings.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.settings.Username != "" || s.settings.Password != "" {
		req.SetBasicAuth(s.settings.Username, s.settings.Password)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logError(logMsgPostFailed, err, logAttrURL, s.settings.URL, logAttrSeq, batch.Seq)
		return fmt.Errorf("posting to %s: %w", s.settings.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		err := fmt.Errorf("%w: %d from %s: %s", xapiload.ErrUnexpectedHTTPStatus, resp.StatusCode, s.settings.URL, detail)
		s.logError(logMsgPostFailed, err, logAttrStatus, resp.StatusCode, logAttrSeq, batch.Seq)

		return err
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	if s.logger != nil {
		s.logger.Debug(logMsgStatementsPosted,
			logAttrSeq, batch.Seq,
			logAttrStatements, batch.Len(),
			logAttrStatus, resp.StatusCode,
			logAttrDurationMS, time.Since(start).Milliseconds())
	}

	return nil
}

// ReportDistributions delegates to the metadata sink when it can report.
func (s *Sink) ReportDistributions(ctx context.Context, timer xapiload.QueryTimer) (xapiload.Distributions, error) {
	reporter, ok := s.metadata.(xapiload.DistributionReporter)
	if !ok {
		return xapiload.Distributions{}, xapiload.ErrDistributionsNotSupported
	}

	return reporter.ReportDistributions(ctx, timer)
}

// Close closes the metadata sink.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return s.metadata.Close()
}

// statementArray joins the already encoded statements into a JSON array.
func statementArray(rows []xapiload.Row) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(row.(xapiload.XAPIEvent).Event)
	}
	buf.WriteByte(']')

	return buf.Bytes()
}

func (s *Sink) logError(msg string, err error, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, append([]any{logAttrError, err.Error()}, args...)...)
	}
}
