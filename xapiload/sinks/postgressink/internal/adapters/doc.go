// Package adapters lets the PostgreSQL sink run on top of pgxpool.Pool, sql.DB (lib/pq) or sqlx.DB.
//
// Every adapter exposes the same DBAdapter interface. Statements arrive fully rendered by goqu,
// so the adapters only execute text and wrap the driver-specific result types.
package adapters
