// Package store persists the video catalog and processing jobs in SQLite and
// exposes helpers for driving the job lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, lease claims and renewals, and stage transitions that mirror the
// pipeline enum. Job rows capture artifact paths, attempt counts, and failure
// reasons so a resubmitted video can resume from its first incomplete stage.
//
// Treat this package as the single source of truth for job semantics; when
// you add new stages or columns, update schema.sql and bump schemaVersion.
package store
