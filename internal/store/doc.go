// Package store persists submissions, provider results, moderation items,
// trust scores, and notification tasks in SQLite or Postgres.
//
// Every worker process coordinates exclusively through this package. State
// transitions are conditional updates (status or version checks) so exactly
// one concurrent caller wins: submissions only move intake -> analyzing ->
// completed|failed, provider results are written once inside the completing
// transaction, and a partial unique index keeps at most one open moderation
// item per entity. Transient lock contention (SQLITE_BUSY, Postgres
// serialization failures) is retried with capped exponential backoff.
//
// The schema is a single idempotent file shared by both drivers. Schema
// changes bump the version in schema.go; operators migrate or recreate the
// database to adopt the new schema.
package store
