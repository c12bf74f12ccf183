package s3stagesink

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	defaultLoadChunkSize = 500
	contentType          = "application/x-ndjson"

	logMsgArtifactStaged  = "s3stage: artifact staged"
	logMsgStageFailed     = "s3stage: upload failed"
	logMsgChunkLoaded     = "s3stage: chunk loaded"
	logMsgArtifactsListed = "s3stage: artifacts listed"
	logAttrKey            = "key"
	logAttrRows           = "rows"
	logAttrBytes          = "bytes"
	logAttrTable          = "table"
	logAttrArtifacts      = "artifacts"
	logAttrDurationMS     = "duration_ms"
	logAttrError          = "error"
)

// ObjectStore is the subset of the S3 API used for staging. *s3.Client satisfies it.
type ObjectStore interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Target is the ClickHouse server that pulls the staged artifacts. *clickhousesink.Sink satisfies it.
type Target interface {
	Prepare(ctx context.Context, dropTablesFirst bool) error
	// ExecSensitive runs a statement that embeds the staging credentials and must not log it.
	ExecSensitive(ctx context.Context, query string) error
	Count(ctx context.Context, table string) (int64, error)
	QualifiedTable(table string) string
	Structure(table string) (string, error)
	Close() error
}

// Settings locates the staging area and the credentials the server uses to read it.
type Settings struct {
	Bucket   string
	Prefix   string
	Key      string
	Secret   string
	Region   string
	Endpoint string
}

// SettingsFromConfig picks the s3_* keys out of cfg.
func SettingsFromConfig(cfg xapiload.Config) Settings {
	return Settings{
		Bucket:   cfg.S3Bucket,
		Prefix:   cfg.S3Prefix,
		Key:      cfg.S3Key,
		Secret:   cfg.S3Secret,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	}
}

// baseURL is the HTTP location of the bucket as seen by the ClickHouse server.
func (s Settings) baseURL() string {
	if s.Endpoint != "" {
		return strings.TrimSuffix(s.Endpoint, "/") + "/" + s.Bucket
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.Bucket, s.Region)
}

// NewS3Client builds an S3 client with static credentials. A custom endpoint switches to path-style addressing.
func NewS3Client(ctx context.Context, settings Settings) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(settings.Key, settings.Secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Sink stages every batch as lz4-compressed JSONEachRow objects in S3 and lets ClickHouse
// load them with the s3 table function.
type Sink struct {
	store     ObjectStore
	target    Target
	settings  Settings
	chunkSize int
	logger    xapiload.Logger

	mu     sync.Mutex
	staged []xapiload.ArtifactRef
	loaded map[string]struct{}
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

// WithLoadChunkSize sets how many artifacts a single INSERT ... SELECT FROM s3 statement reads.
func WithLoadChunkSize(n int) Option {
	return func(s *Sink) error {
		if n < 1 {
			return fmt.Errorf("load chunk size must be positive, got %d", n)
		}
		s.chunkSize = n

		return nil
	}
}

// New creates a staging Sink.
func New(store ObjectStore, target Target, settings Settings, options ...Option) (*Sink, error) {
	if store == nil || target == nil {
		return nil, xapiload.ErrNilDatabaseConnection
	}

	if settings.Bucket == "" {
		return nil, xapiload.ConfigurationError{Field: "s3_bucket", Problem: "must not be empty"}
	}

	s := &Sink{
		store:     store,
		target:    target,
		settings:  settings,
		chunkSize: defaultLoadChunkSize,
		loaded:    map[string]struct{}{},
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Prepare creates the target tables.
func (s *Sink) Prepare(ctx context.Context, dropTablesFirst bool) error {
	return s.target.Prepare(ctx, dropTablesFirst)
}

// WriteBatch stages the batch.
func (s *Sink) WriteBatch(ctx context.Context, batch xapiload.Batch) error {
	_, err := s.Stage(ctx, batch)
	return err
}

// Stage uploads the batch as one artifact, or one artifact per emission year for statement rows.
func (s *Sink) Stage(ctx context.Context, batch xapiload.Batch) ([]xapiload.ArtifactRef, error) {
	table := batch.Kind.Table()
	if table == "" {
		return nil, fmt.Errorf("%w: %q", xapiload.ErrUnsupportedRowKind, batch.Kind)
	}

	if batch.Len() == 0 {
		return nil, nil
	}

	var refs []xapiload.ArtifactRef
	for _, part := range partitionBatch(batch) {
		key := artifactKey(s.settings.Prefix, batch.Kind, part.year, batch.Seq)

		body, err := encodeRows(part.rows)
		if err != nil {
			return refs, fmt.Errorf("encoding %s: %w", key, err)
		}

		_, err = s.store.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.settings.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
			ContentType:   aws.String(contentType),
		})
		if err != nil {
			s.logError(logMsgStageFailed, err, logAttrKey, key)
			return refs, fmt.Errorf("uploading %s: %w", key, err)
		}

		ref := xapiload.ArtifactRef{Kind: batch.Kind, Table: table, Key: key, Rows: len(part.rows)}
		refs = append(refs, ref)
		s.logDebug(logMsgArtifactStaged, logAttrKey, key, logAttrRows, ref.Rows, logAttrBytes, len(body))
	}

	s.mu.Lock()
	s.staged = append(s.staged, refs...)
	s.mu.Unlock()

	return refs, nil
}

// Staged returns every artifact staged by this Sink so far.
func (s *Sink) Staged() []xapiload.ArtifactRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.staged)
}

// DiscoverStaged lists the artifacts under the configured prefix.
// Objects that do not look like staged artifacts are ignored.
func (s *Sink) DiscoverStaged(ctx context.Context) ([]xapiload.ArtifactRef, error) {
	paginator := s3.NewListObjectsV2Paginator(s.store, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.settings.Bucket),
		Prefix: aws.String(s.settings.Prefix),
	})

	var refs []xapiload.ArtifactRef
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", s.settings.Bucket, s.settings.Prefix, err)
		}

		for _, object := range page.Contents {
			key := aws.ToString(object.Key)

			kind, ok := parseArtifactKey(s.settings.Prefix, key)
			if !ok {
				continue
			}

			refs = append(refs, xapiload.ArtifactRef{Kind: kind, Table: kind.Table(), Key: key})
		}
	}

	s.logInfo(logMsgArtifactsListed, logAttrArtifacts, len(refs))

	return refs, nil
}

// LoadStaged makes the server read the given artifacts into their tables, table by table, in chunks.
// Every artifact is read at most once per Sink, even when it is passed again.
// The returned count is the growth of the target tables during the load.
func (s *Sink) LoadStaged(ctx context.Context, refs []xapiload.ArtifactRef) (int64, error) {
	byTable, tables := s.pending(refs)

	var loaded int64
	for _, table := range tables {
		before, err := s.target.Count(ctx, table)
		if err != nil {
			return loaded, fmt.Errorf("counting %s: %w", table, err)
		}

		for chunk := range slices.Chunk(byTable[table], s.chunkSize) {
			query, err := s.loadQuery(table, chunk)
			if err != nil {
				return loaded, err
			}

			start := time.Now()
			if err := s.target.ExecSensitive(ctx, query); err != nil {
				return loaded, fmt.Errorf("loading %d artifacts into %s: %w", len(chunk), table, err)
			}

			s.markLoaded(chunk)
			s.logInfo(logMsgChunkLoaded,
				logAttrTable, table,
				logAttrArtifacts, len(chunk),
				logAttrDurationMS, time.Since(start).Milliseconds())
		}

		after, err := s.target.Count(ctx, table)
		if err != nil {
			return loaded, fmt.Errorf("counting %s: %w", table, err)
		}

		loaded += after - before
	}

	return loaded, nil
}

// ReportDistributions delegates to the target when it can report.
func (s *Sink) ReportDistributions(ctx context.Context, timer xapiload.QueryTimer) (xapiload.Distributions, error) {
	reporter, ok := s.target.(xapiload.DistributionReporter)
	if !ok {
		return xapiload.Distributions{}, xapiload.ErrDistributionsNotSupported
	}

	return reporter.ReportDistributions(ctx, timer)
}

// Close closes the target connection.
func (s *Sink) Close() error {
	return s.target.Close()
}

// pending groups the not yet loaded, deduplicated keys by table, with tables in first-seen order.
func (s *Sink) pending(refs []xapiload.ArtifactRef) (map[string][]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTable := map[string][]string{}
	var tables []string
	seen := map[string]struct{}{}

	for _, ref := range refs {
		if _, done := s.loaded[ref.Key]; done {
			continue
		}
		if _, dup := seen[ref.Key]; dup {
			continue
		}
		seen[ref.Key] = struct{}{}

		if _, known := byTable[ref.Table]; !known {
			tables = append(tables, ref.Table)
		}
		byTable[ref.Table] = append(byTable[ref.Table], ref.Key)
	}

	return byTable, tables
}

func (s *Sink) markLoaded(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.loaded[key] = struct{}{}
	}
}

// loadQuery builds INSERT INTO db.table SELECT * FROM s3(url, key, secret, 'JSONEachRow', structure, 'lz4'),
// with the artifact names folded into a {a,b,...} glob below the common prefix.
func (s *Sink) loadQuery(table string, keys []string) (string, error) {
	columns, err := s.target.Structure(table)
	if err != nil {
		return "", err
	}

	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = strings.TrimPrefix(key, s.settings.Prefix)
	}

	path := s.settings.Prefix + names[0]
	if len(names) > 1 {
		path = s.settings.Prefix + "{" + strings.Join(names, ",") + "}"
	}

	return fmt.Sprintf("INSERT INTO %s SELECT * FROM s3(%s, %s, %s, 'JSONEachRow', %s, 'lz4')",
		s.target.QualifiedTable(table),
		quoteLiteral(s.settings.baseURL()+"/"+path),
		quoteLiteral(s.settings.Key),
		quoteLiteral(s.settings.Secret),
		quoteLiteral(columns),
	), nil
}

func quoteLiteral(value string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value) + "'"
}

func (s *Sink) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Sink) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Sink) logError(msg string, err error, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, append([]any{logAttrError, err.Error()}, args...)...)
	}
}
