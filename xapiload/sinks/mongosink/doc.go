// Package mongosink implements the mongo backend: one collection per table, one document per row,
// written with ordered InsertMany calls. Distribution reports run as aggregation pipelines.
package mongosink
