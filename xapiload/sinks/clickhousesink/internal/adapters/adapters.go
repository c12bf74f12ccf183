// Package adapters wraps a clickhouse-go native connection behind the small interface the
// ClickHouse sink needs, so that the sink can be exercised without a server.
package adapters

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DBAdapter defines the database operations needed by the ClickHouse sink.
type DBAdapter interface {
	Exec(ctx context.Context, query string) error
	InsertBatch(ctx context.Context, query string, rows [][]any) error
	Query(ctx context.Context, query string) (DBRows, error)
	Close() error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// ConnAdapter implements DBAdapter for a clickhouse-go driver.Conn.
type ConnAdapter struct {
	conn driver.Conn
}

// NewConnAdapter creates an adapter over an open connection.
func NewConnAdapter(conn driver.Conn) *ConnAdapter {
	return &ConnAdapter{conn: conn}
}

// Exec runs a statement that returns no rows.
func (a *ConnAdapter) Exec(ctx context.Context, query string) error {
	return a.conn.Exec(ctx, query)
}

// InsertBatch sends rows as one native-protocol block. Either every row is sent or none is.
func (a *ConnAdapter) InsertBatch(ctx context.Context, query string, rows [][]any) error {
	batch, err := a.conn.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return err
		}
	}

	return batch.Send()
}

// Query runs a select statement.
func (a *ConnAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := a.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// Close closes the connection.
func (a *ConnAdapter) Close() error {
	return a.conn.Close()
}
