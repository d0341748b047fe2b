// Package storage owns the shared SQLite connection backing the catalog and
// the acquisition job queue.
//
// It applies the WAL/foreign-key/busy-timeout pragmas, creates and verifies
// the schema, and provides busy-retry execution helpers plus the nullable
// value conversions the store packages share. Schema changes bump the version
// in schema.go; users clear the database to adopt the new schema.
package storage
