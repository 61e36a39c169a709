package store

import (
	"context"
	"errors"

	"github.com/roach88/jsondb/internal/record"
)

// ErrStop may be returned by a Scan callback to end the scan early without
// error.
var ErrStop = errors.New("stop scan")

// Range selects keys in [Start, End). An empty End is unbounded. Limit <= 0
// means no limit.
type Range struct {
	Start   string
	End     string
	Reverse bool
	Limit   int
}

// PrefixRange selects every key starting with prefix.
func PrefixRange(prefix string) Range {
	return Range{Start: prefix, End: record.PrefixEnd(prefix)}
}

// Tx is a backend transaction. Keys are DB keys; leaves are stored in their
// encoded form by the backend.
type Tx interface {
	// Get returns the leaf stored exactly at key.
	Get(ctx context.Context, key string) (record.Leaf, bool, error)

	// Scan calls fn for each entry in r, in key order (descending if
	// r.Reverse). Backends must not hold a cursor open across fn in a way
	// that blocks writes from fn.
	Scan(ctx context.Context, r Range, fn func(record.Entry) error) error

	// Put inserts or overwrites one entry.
	Put(ctx context.Context, e record.Entry) error

	// DeleteRange deletes keys in [start, end) and returns how many existed.
	DeleteRange(ctx context.Context, start, end string) (int, error)
}

// IndexLookup is implemented by transactions that maintain property
// indexes natively.
type IndexLookup interface {
	LookupIndex(ctx context.Context, idx string, value record.Leaf) ([]string, error)
}

// Backend is a transactional sorted key-value store.
type Backend interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction, committing if fn returns
	// nil and rolling back otherwise.
	Update(ctx context.Context, fn func(Tx) error) error

	Close() error
}
