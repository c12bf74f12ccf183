// Package postgressink implements the postgres and citus backends on top of pgx, database/sql with
// lib/pq, or sqlx, selected by db_adapter. Inserts and distribution queries are rendered with goqu.
//
// With WithCitus the event table is range partitioned by month over the generated date range and
// distributed by course run, so that all events of a course stay on one worker node.
package postgressink
