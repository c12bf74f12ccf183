// Package s3stagesink implements the chdb backend. Batches are uploaded to S3 as lz4-compressed
// JSONEachRow artifacts inside the workers, and a single load afterwards lets ClickHouse pull them
// with the s3 table function. Statement rows are split into one artifact per emission year.
package s3stagesink
