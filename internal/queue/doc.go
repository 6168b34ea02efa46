// Package queue persists content items and batches in SQLite and exposes the
// compare-and-swap transitions that drive their lifecycle.
//
// All item mutation flows through CompareAndSwapItem, which asserts the
// caller's snapshot of (state, stage_index, attempts) and fails with
// ErrConflict when another writer won the race. That single primitive is what
// guarantees at-most-one concurrent handler per item. Batch counters use the
// same discipline against a revision column.
//
// The database is treated as transient storage for in-flight jobs rather than
// a long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for lifecycle semantics;
// when you add new states or fields, update schema.sql and bump schemaVersion.
package queue
