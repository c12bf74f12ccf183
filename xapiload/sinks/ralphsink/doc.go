// Package ralphsink implements the ralph backend. Enrollment and random statements are POSTed to a
// Ralph learning record store, while course, block, tag and actor data go to a metadata sink,
// normally the ClickHouse sink that Ralph itself writes into.
package ralphsink
