// Package localstore is the on-device store for offline-capable entities
// (events, announcements, ministries, prayers).
//
// # Storage model
//
// Each record is stored under its (kind, id) key with a JSON payload and a
// per-record revision that increases on every write. Records never share a
// row, so a write to one entity cannot clobber a sibling in the same
// collection.
//
// # Write serialization
//
// Every write for a kind is funneled through that kind's write queue and
// applied by a single worker goroutine in FIFO order. Read-modify-write
// operations (Update) therefore observe the result of every write issued
// before them, and two Commands racing on the same kind (a double tap)
// cannot lose an update. Reads bypass the queue and may run concurrently.
//
// # Commit hooks
//
// CommitHooks run synchronously inside the write transaction after the
// record is upserted. Each hook runs under its own SAVEPOINT: if the hook
// fails, its writes are rolled back, the source record still commits, and
// the caller receives a PROJECTION_FAILED error naming the source. Hooks
// must use the *Tx they are given; calling back into the Store from a hook
// deadlocks, because the transaction holds the only connection.
//
// # Read failures
//
// Get fails open, visibly: when the collection cannot be read it returns an
// empty slice together with a STORAGE_UNAVAILABLE error, and undecodable
// records are skipped and reported as CORRUPT_RECORD alongside the records
// that did decode. Writes fail closed.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - a single pooled connection, matching SQLite's single writer
package localstore
