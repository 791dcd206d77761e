// Package store persists the repository catalog, extracted entity
// records, and the indexing job queue in SQLite. The job queue is a
// durable priority queue: workers claim the highest-priority queued
// job, failed jobs are retried up to a budget, and jobs that exhaust
// it are dead-lettered. Claims for the same repository are mutually
// exclusive.
//
// The SQLite driver is selected at build time: the default build uses
// the pure-Go modernc.org/sqlite driver, while the cgo_sqlite build
// tag switches to mattn/go-sqlite3.
package store
