// Package clickhousesink implements the clickhouse backend: every batch becomes one native-protocol
// insert block into a MergeTree table of the configured database.
//
// Enrollment statements and random xAPI events share the xapi_events_all table. The sink also
// implements xapiload.DistributionReporter, and exposes ExecSensitive, QualifiedTable and Structure so that
// the S3 staging sink can trigger server-side loads through the same connection.
package clickhousesink
