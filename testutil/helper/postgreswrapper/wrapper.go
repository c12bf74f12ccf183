// Package postgreswrapper opens postgres sinks against a live database for integration tests.
// Tests are skipped unless XAPILOAD_TEST_POSTGRES_HOST is set; ADAPTER_TYPE selects pgx (default), sql or sqlx.
package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/testutil/helper"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/postgressink"
)

const (
	envHost     = "XAPILOAD_TEST_POSTGRES_HOST"
	envPort     = "XAPILOAD_TEST_POSTGRES_PORT"
	envUser     = "XAPILOAD_TEST_POSTGRES_USER"
	envPassword = "XAPILOAD_TEST_POSTGRES_PASSWORD"
	envDatabase = "XAPILOAD_TEST_POSTGRES_DB"
	envAdapter  = "ADAPTER_TYPE"
)

// Wrapper holds a sink together with the raw handle it writes through.
type Wrapper struct {
	Sink *postgressink.Sink
	Cfg  xapiload.Config

	pool *pgxpool.Pool
	db   *sql.DB
	dbx  *sqlx.DB
}

// TestConfig returns the fixture configuration pointed at the test database, or skips the test.
func TestConfig(t testing.TB) xapiload.Config {
	t.Helper()

	host := os.Getenv(envHost)
	if host == "" {
		t.Skipf("%s is not set, skipping postgres integration test", envHost)
	}

	cfg := helper.FixtureConfig()
	cfg.Backend = xapiload.BackendPostgres
	cfg.DBHost = host
	cfg.DBPort = 5432
	cfg.DBUsername = envOr(envUser, "test")
	cfg.DBPassword = envOr(envPassword, "test")
	cfg.DBName = envOr(envDatabase, "xapi_test")

	if port := os.Getenv(envPort); port != "" {
		p, err := strconv.Atoi(port)
		require.NoError(t, err, "invalid %s", envPort)
		cfg.DBPort = p
	}

	switch adapter := strings.ToLower(os.Getenv(envAdapter)); adapter {
	case "", xapiload.DBAdapterPGX:
		cfg.DBAdapter = xapiload.DBAdapterPGX
	case xapiload.DBAdapterSQL, xapiload.DBAdapterSQLX:
		cfg.DBAdapter = adapter
	default:
		t.Fatalf("unsupported %s: %s", envAdapter, adapter)
	}

	return cfg
}

// CreateWrapperWithTestConfig connects with the adapter named by ADAPTER_TYPE.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgressink.Option) *Wrapper {
	t.Helper()

	ctx := context.Background()
	cfg := TestConfig(t)
	w := &Wrapper{Cfg: cfg}

	var err error
	switch cfg.DBAdapter {
	case xapiload.DBAdapterSQL:
		w.db, err = postgressink.OpenSQLDB(ctx, cfg)
		require.NoError(t, err, "error connecting to DB in test setup")
		w.Sink, err = postgressink.NewFromSQLDB(w.db, options...)

	case xapiload.DBAdapterSQLX:
		w.dbx, err = postgressink.OpenSQLX(ctx, cfg)
		require.NoError(t, err, "error connecting to DB in test setup")
		w.Sink, err = postgressink.NewFromSQLX(w.dbx, options...)

	default:
		w.pool, err = postgressink.OpenPGXPool(ctx, cfg)
		require.NoError(t, err, "error connecting to DB pool in test setup")
		w.Sink, err = postgressink.NewFromPGXPool(w.pool, options...)
	}
	require.NoError(t, err, "error creating sink in test setup")

	return w
}

// Close closes the sink and with it the database handle.
func (w *Wrapper) Close() {
	_ = w.Sink.Close()
}

// CountRows counts the rows of table through the raw handle.
func CountRows(t testing.TB, w *Wrapper, table string) int64 {
	t.Helper()

	query := fmt.Sprintf(`SELECT count(*) FROM "%s"`, table)

	var count int64
	var err error

	switch {
	case w.pool != nil:
		err = w.pool.QueryRow(context.Background(), query).Scan(&count)
	case w.dbx != nil:
		err = w.dbx.Get(&count, query)
	default:
		err = w.db.QueryRow(query).Scan(&count)
	}

	require.NoError(t, err, "error counting rows of %s", table)

	return count
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}
