// Package store provides the SQLite backing store for stratum's versioned
// tables.
//
// The layout is append-only: entity_schema, field_def, record_header and
// value_fact rows are inserted with incrementing version numbers and never
// updated or deleted in place. Deletion is represented as a tombstone
// header (deleted=1), not erased.
//
// # Critical invariants
//
//   - UNIQUE(id, version) on record_header and field_def serializes
//     concurrent version allocation: a writer that loses the race gets a
//     constraint violation instead of silently forking history.
//   - UNIQUE(record, field, version, ifnull(conditions,'')) on value_fact
//     keeps at most one fact per field mutation per condition scope.
//   - A header and its value facts commit in one transaction (WithTx), so
//     readers never observe a half-written version.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
