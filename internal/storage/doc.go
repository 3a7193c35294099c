// Package storage persists the scheduler's registry snapshot and run journal.
//
// Every driver implements the same small Store: TTL-bounded key/value puts
// for the snapshot and an append-only, bounded list of RunRecords.
//
// Drivers:
//   - memory: process-local, for tests and single-shot runs
//   - file: one JSON envelope per key (tmp+rename) and <prefix>.runs.jsonl
//   - sqlite: modernc.org/sqlite with embedded migrations
//   - redis: go-redis SET EX and a capped list
package storage
