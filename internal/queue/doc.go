// Package queue persists backtest jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, checkpoint
// writes, stats queries, and the startup repair pass that drops corrupt rows
// and clamps inconsistent progress counters. Jobs capture an ordered list of
// data sources plus a cursor recording how far processing has advanced, so an
// interrupted run resumes at the first unprocessed source instead of starting
// over.
//
// The database is treated as durable storage for queued work rather than a
// long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new job fields, update schema.sql and bump schemaVersion.
package queue
