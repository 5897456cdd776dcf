// Package storage provides the durable reminder store.
//
// Store keeps the authoritative in-memory copy and writes a full snapshot
// through a Backend on every mutation. Backends:
//   - "file": one JSON document, replaced atomically (tmp + fsync + rename)
//   - "sqlite": pure-Go SQLite (modernc.org/sqlite), one transaction per save
//   - "postgres": pgx connection pool, one transaction per save
//   - "memory": volatile, for tests and dry runs
package storage
