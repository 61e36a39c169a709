// Package store implements the Path Index: a sorted mapping from DB keys to
// leaves with prefix range reads, prefix range deletes, and batched subtree
// replacement.
//
// The index is split in two layers:
//   - Backend / Tx: a minimal sorted key-value contract. The SQLite backend
//     in this package is the default; internal/kvstore provides Badger.
//   - Index / Txn: the subtree operations and the structural invariants,
//     written once against Tx.
//
// # Concurrency
//
// Index holds one store-wide sync.RWMutex. Every mutation runs inside
// Index.Write under the exclusive lock and inside a single backend
// transaction, so readers (Index.Read, shared lock) observe either the
// complete pre-write or the complete post-write state.
//
// # Structural Invariants
//
// No stored key is a strict prefix of another, and no container holds both
// index children ("[...") and member children. Writes that would break either
// rule are resolved by last write wins structurally:
//   - a leaf stored at an ancestor of the written key is deleted
//   - a subtree stored below a written leaf is deleted
//   - siblings of the opposite container kind are deleted
//
// Each resolution is reported as a StructuralConflict in WriteResult and
// logged at warn level. It is not an error.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: one writer, no SQLITE_BUSY
//
// All queries order by path with BINARY collation, which matches Go string
// comparison of the UTF-8 keys.
package store
