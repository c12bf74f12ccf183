package clickhousesink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/clickhousesink/internal/adapters"
)

const (
	logMsgTableDropped    = "clickhouse: table dropped"
	logMsgTableCreated    = "clickhouse: table created"
	logMsgInsertFailed    = "clickhouse: batch insert failed"
	logMsgBatchInserted   = "clickhouse: batch inserted"
	logMsgStatementFailed = "clickhouse: statement failed"
	logAttrTable          = "table"
	logAttrRows           = "rows"
	logAttrSeq            = "seq"
	logAttrDurationMS     = "duration_ms"
	logAttrError          = "error"
	logAttrQuery          = "query"
)

// Sink writes batches into ClickHouse MergeTree tables over the native protocol.
type Sink struct {
	db       adapters.DBAdapter
	database string
	logger   xapiload.Logger
}

// Option defines a functional option for configuring Sink.
type Option func(*Sink) error

// WithLogger sets the logger for the Sink.
// Debug level: every DDL statement and batch insert. Error level: failed statements.
func WithLogger(logger xapiload.Logger) Option {
	return func(s *Sink) error {
		s.logger = logger
		return nil
	}
}

// Dial opens a native-protocol connection using the db_* keys of cfg.
// The connection is not bound to cfg.DBName, so that Prepare can create the database first.
func Dial(ctx context.Context, cfg xapiload.Config) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort)},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: cfg.DBUsername,
			Password: cfg.DBPassword,
		},
		DialTimeout:  10 * time.Second,
		MaxOpenConns: cfg.NumWorkers + 2,
		MaxIdleConns: cfg.NumWorkers,
		Settings: clickhouse.Settings{
			"max_execution_time": 600,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	return conn, nil
}

// NewFromConn creates a Sink over an open clickhouse-go connection.
func NewFromConn(conn driver.Conn, database string, options ...Option) (*Sink, error) {
	if conn == nil {
		return nil, xapiload.ErrNilDatabaseConnection
	}

	return newSink(adapters.NewConnAdapter(conn), database, options...)
}

func newSink(db adapters.DBAdapter, database string, options ...Option) (*Sink, error) {
	if database == "" {
		return nil, xapiload.ErrEmptyDatabaseName
	}

	s := &Sink{
		db:       db,
		database: database,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Prepare creates the database and every table, dropping the tables first when asked to.
func (s *Sink) Prepare(ctx context.Context, dropTablesFirst bool) error {
	if err := s.Exec(ctx, createDatabaseQuery(s.database)); err != nil {
		return err
	}

	for _, table := range Tables() {
		if dropTablesFirst {
			if err := s.Exec(ctx, dropTableQuery(s.database, table)); err != nil {
				return err
			}
			s.logDebug(logMsgTableDropped, logAttrTable, table)
		}

		query, err := createTableQuery(s.database, table)
		if err != nil {
			return err
		}

		if err := s.Exec(ctx, query); err != nil {
			return err
		}
		s.logDebug(logMsgTableCreated, logAttrTable, table)
	}

	return nil
}

// WriteBatch inserts the whole batch as one block.
func (s *Sink) WriteBatch(ctx context.Context, batch xapiload.Batch) error {
	if batch.Kind.Table() == "" {
		return fmt.Errorf("%w: %q", xapiload.ErrUnsupportedRowKind, batch.Kind)
	}

	if batch.Len() == 0 {
		return nil
	}

	rows := make([][]any, len(batch.Rows))
	for i, row := range batch.Rows {
		rows[i] = row.Values()
	}

	start := time.Now()
	if err := s.db.InsertBatch(ctx, insertQuery(s.database, batch.Kind), rows); err != nil {
		s.logError(logMsgInsertFailed, err, logAttrTable, batch.Kind.Table(), logAttrSeq, batch.Seq)
		return fmt.Errorf("inserting into %s: %w", batch.Kind.Table(), err)
	}

	s.logDebug(logMsgBatchInserted,
		logAttrTable, batch.Kind.Table(),
		logAttrSeq, batch.Seq,
		logAttrRows, batch.Len(),
		logAttrDurationMS, time.Since(start).Milliseconds())

	return nil
}

// Exec runs one statement against the server.
func (s *Sink) Exec(ctx context.Context, query string) error {
	if err := s.db.Exec(ctx, query); err != nil {
		s.logError(logMsgStatementFailed, err, logAttrQuery, query)
		return err
	}

	return nil
}

// ExecSensitive runs a statement that carries credentials. A failure is logged without the statement.
func (s *Sink) ExecSensitive(ctx context.Context, query string) error {
	if err := s.db.Exec(ctx, query); err != nil {
		s.logError(logMsgStatementFailed, err)
		return err
	}

	return nil
}

// QualifiedTable returns the backquoted database.table name.
func (s *Sink) QualifiedTable(table string) string {
	return qualified(s.database, table)
}

// Structure returns the column definition list of a table, e.g. for the s3 table function.
func (s *Sink) Structure(table string) (string, error) {
	return structure(table)
}

// Close closes the underlying connection.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Sink) logError(msg string, err error, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, append([]any{logAttrError, err.Error()}, args...)...)
	}
}
