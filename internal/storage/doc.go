// Package storage persists tasks, platform accounts and execution records.
//
// Drivers:
//   - memory: maps guarded by a mutex; used for local runs and tests
//   - file: memory plus a JSON snapshot (tasks, accounts) and an append-only
//     executions journal
//   - sqlite: modernc.org/sqlite (pure Go), embedded migrations
//   - postgres: jackc/pgx/v5 pool, embedded schema
package storage
