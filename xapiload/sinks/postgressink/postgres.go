package postgressink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/postgressink/internal/adapters"
)

const (
	dialectPostgres = "postgres"

	logMsgBuildInsertQueryFailed = "postgres: failed to build insert query"
	logMsgDBExecFailed           = "postgres: database execution failed"
	logMsgBatchInserted          = "postgres: batch inserted"
	logMsgSQLExecuted            = "postgres: executed sql"
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrTable                 = "table"
	logAttrSeq                   = "seq"
	logAttrRowsAffected          = "rows_affected"
	logAttrDurationMS            = "duration_ms"
)

// Sink writes batches into PostgreSQL tables, optionally distributed by Citus.
type Sink struct {
	db          adapters.DBAdapter
	citus       bool
	rangeStart  time.Time
	rangeEnd    time.Time
	logger      xapiload.Logger
	dialectName string
}

// Option defines a functional option for configuring Sink.
type Option func(*Sink) error

// WithLogger sets the logger for the Sink.
// Debug level: every executed statement (without row data) and its timing.
// Error level: failed statements.
func WithLogger(logger xapiload.Logger) Option {
	return func(s *Sink) error {
		s.logger = logger
		return nil
	}
}

// WithCitus partitions the event table by month over [start, end] and distributes it by course run.
func WithCitus(start, end time.Time) Option {
	return func(s *Sink) error {
		if !start.Before(end) {
			return xapiload.ConfigurationError{Field: "start_date", Problem: "must be before end_date"}
		}

		s.citus = true
		s.rangeStart = start
		s.rangeEnd = end

		return nil
	}
}

// NewFromPGXPool creates a new Sink using a pgx Pool with optional configuration.
func NewFromPGXPool(db *pgxpool.Pool, options ...Option) (*Sink, error) {
	if db == nil {
		return nil, xapiload.ErrNilDatabaseConnection
	}

	return newSink(adapters.NewPGXAdapter(db), options...)
}

// NewFromSQLDB creates a new Sink using a sql.DB with optional configuration.
func NewFromSQLDB(db *sql.DB, options ...Option) (*Sink, error) {
	if db == nil {
		return nil, xapiload.ErrNilDatabaseConnection
	}

	return newSink(adapters.NewSQLAdapter(db), options...)
}

// NewFromSQLX creates a new Sink using a sqlx.DB with optional configuration.
func NewFromSQLX(db *sqlx.DB, options ...Option) (*Sink, error) {
	if db == nil {
		return nil, xapiload.ErrNilDatabaseConnection
	}

	return newSink(adapters.NewSQLXAdapter(db), options...)
}

func newSink(db adapters.DBAdapter, options ...Option) (*Sink, error) {
	s := &Sink{db: db, dialectName: dialectPostgres}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Prepare creates every table with its primary key and indexes, dropping the tables first when asked to.
func (s *Sink) Prepare(ctx context.Context, dropTablesFirst bool) error {
	var statements []string

	for _, table := range Tables() {
		if dropTablesFirst {
			statements = append(statements, dropTableQuery(table))
		}

		create, err := createTableStatements(table, s.citus)
		if err != nil {
			return err
		}
		statements = append(statements, create...)
	}

	if s.citus {
		statements = append(statements, citusStatements(s.rangeStart, s.rangeEnd)...)
	}

	for _, statement := range statements {
		if _, err := s.exec(ctx, statement); err != nil {
			return err
		}
	}

	return nil
}

// WriteBatch inserts the whole batch with one multi-row INSERT statement, which Postgres applies atomically.
func (s *Sink) WriteBatch(ctx context.Context, batch xapiload.Batch) error {
	table := batch.Kind.Table()
	if table == "" {
		return fmt.Errorf("%w: %q", xapiload.ErrUnsupportedRowKind, batch.Kind)
	}

	if batch.Len() == 0 {
		return nil
	}

	query, err := s.buildInsertQuery(table, batch)
	if err != nil {
		s.logError(logMsgBuildInsertQueryFailed, err, logAttrTable, table)
		return err
	}

	start := time.Now()
	rowsAffected, err := s.exec(ctx, query)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}

	s.logDebug(logMsgBatchInserted,
		logAttrTable, table,
		logAttrSeq, batch.Seq,
		logAttrRowsAffected, rowsAffected,
		logAttrDurationMS, time.Since(start).Milliseconds())

	return nil
}

// Close closes the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) buildInsertQuery(table string, batch xapiload.Batch) (string, error) {
	columns := xapiload.ColumnsOf(batch.Kind)
	cols := make([]any, len(columns))
	for i, column := range columns {
		cols[i] = column
	}

	vals := make([][]any, len(batch.Rows))
	for i, row := range batch.Rows {
		vals[i] = row.Values()
	}

	query, _, err := goqu.Dialect(s.dialectName).
		Insert(table).
		Cols(cols...).
		Vals(vals...).
		ToSQL()
	if err != nil {
		return "", fmt.Errorf("building insert query for %s: %w", table, err)
	}

	return query, nil
}

func (s *Sink) exec(ctx context.Context, query string) (int64, error) {
	result, err := s.db.Exec(ctx, query)
	if err != nil {
		s.logError(logMsgDBExecFailed, err, logAttrQuery, truncate(query))
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	s.logDebug(logMsgSQLExecuted, logAttrQuery, truncate(query))

	return rowsAffected, nil
}

// truncate keeps multi-row inserts readable in logs.
func truncate(query string) string {
	const limit = 200
	if len(query) <= limit {
		return query
	}

	return query[:limit] + "..."
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
