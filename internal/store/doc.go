// Package store provides persistent storage for the gateway using SQLite.
//
// The store is the single owner of all durable state: posts (including
// replies via reply_to), the kv table (notice, name), the admins,
// blacklist and peers sets, the peer-sync seen/applied UID sets, the
// transient rxparts reassembly buffers, and the dm_out store-and-forward
// queue.
//
// SQLite runs in WAL mode with a single writer connection; all
// components share one *SQLiteStore. Unique-constraint violations on set
// inserts are treated as idempotent success.
//
// Use NewSQLiteStore(":memory:") in tests.
package store
