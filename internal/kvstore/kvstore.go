// Package kvstore is a Badger-backed store.Backend.
//
// Keys are the DB keys as raw bytes and values are encoded leaves, so Badger's
// byte-ordered iteration is the Path Index order directly. Property indexes
// are not maintained natively; lookups fall back to a collection scan.
//
// Badger limits the size of one transaction. Subtree writes run in a single
// transaction, so a write past the limit fails as InvalidDocument and very
// large documents should use the SQLite backend.
package kvstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/record"
	"github.com/roach88/jsondb/internal/store"
)

// FormatVersion is the on-disk layout version recorded under formatKey.
const FormatVersion = 1

// formatKey sorts before "/" so it never appears in a Path Index scan.
var formatKey = []byte("!format-version")

const pageSize = 256

// Badger implements store.Backend.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ store.Backend = (*Badger)(nil)

// Open opens or creates a Badger database in dir. An empty dir opens an
// in-memory database.
func Open(dir string, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.CompactL0OnClose = true
	opts.Compression = options.None
	opts.Logger = newLogger(logger, dir)

	logger.Info("opening badger store", "dir", dir, "in_memory", dir == "")
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	b := &Badger{db: db, logger: logger}
	if err := b.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return b, nil
}

// runMigrations records the layout version. A database written by a newer
// layout is refused.
func (b *Badger) runMigrations() error {
	return b.db.Update(func(txn *badger.Txn) error {
		var version uint16
		item, err := txn.Get(formatKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			version = 0
		case err != nil:
			return err
		default:
			err := item.Value(func(val []byte) error {
				if len(val) != 2 {
					return fmt.Errorf("format version has %d bytes", len(val))
				}
				version = binary.BigEndian.Uint16(val)
				return nil
			})
			if err != nil {
				return err
			}
		}

		if version > FormatVersion {
			return fmt.Errorf("database format version %d is newer than supported %d", version, FormatVersion)
		}
		if version < FormatVersion {
			buf := make([]byte, 2)
			binary.BigEndian.PutUint16(buf, FormatVersion)
			return txn.Set(formatKey, buf)
		}
		return nil
	})
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// View runs fn in a read-only Badger transaction.
func (b *Badger) View(ctx context.Context, fn func(store.Tx) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// Update runs fn in a read-write Badger transaction, committed if fn
// succeeds.
func (b *Badger) Update(ctx context.Context, fn func(store.Tx) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) Get(ctx context.Context, key string) (record.Leaf, bool, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record.Leaf{}, false, nil
	}
	if err != nil {
		return record.Leaf{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return record.Leaf{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	leaf, err := record.DecodeLeaf(raw)
	if err != nil {
		return record.Leaf{}, false, dberr.CorruptData(record.HumanPath(key), "undecodable leaf", err)
	}
	return leaf, true, nil
}

// pageBounds tracks where the next page of a scan starts.
type pageBounds struct {
	lower          string
	lowerExclusive bool
	upper          string
	reverse        bool
}

// Scan reads the range page by page, closing the iterator before calling fn
// so fn may write in the same transaction.
func (t *badgerTx) Scan(ctx context.Context, r store.Range, fn func(record.Entry) error) error {
	b := pageBounds{lower: r.Start, upper: r.End, reverse: r.Reverse}
	remaining := r.Limit

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		limit := pageSize
		if r.Limit > 0 && remaining < pageSize {
			limit = remaining
		}

		page, err := t.page(b, limit)
		if err != nil {
			return err
		}

		for _, e := range page {
			if err := fn(e); err != nil {
				if errors.Is(err, store.ErrStop) {
					return nil
				}
				return err
			}
		}

		if r.Limit > 0 {
			remaining -= len(page)
			if remaining <= 0 {
				return nil
			}
		}
		if len(page) < limit {
			return nil
		}

		last := page[len(page)-1].Key
		if r.Reverse {
			b.upper = last
		} else {
			b.lower = last
			b.lowerExclusive = true
		}
	}
}

func (t *badgerTx) page(b pageBounds, limit int) ([]record.Entry, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = b.reverse
	it := t.txn.NewIterator(opts)
	defer it.Close()

	if b.reverse {
		if b.upper == "" {
			it.Seek([]byte{0xff})
		} else {
			it.Seek([]byte(b.upper))
		}
	} else {
		it.Seek([]byte(b.lower))
	}

	page := make([]record.Entry, 0, limit)
	for ; it.Valid() && len(page) < limit; it.Next() {
		item := it.Item()
		k := string(item.KeyCopy(nil))

		if b.reverse {
			// Reverse seek lands on the largest key <= upper.
			if b.upper != "" && k >= b.upper {
				continue
			}
			if k < b.lower || (b.lowerExclusive && k == b.lower) {
				break
			}
		} else {
			if b.lowerExclusive && k == b.lower {
				continue
			}
			if b.upper != "" && k >= b.upper {
				break
			}
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		leaf, err := record.DecodeLeaf(raw)
		if err != nil {
			return nil, dberr.CorruptData(record.HumanPath(k), "undecodable leaf", err)
		}
		page = append(page, record.Entry{Key: k, Value: leaf})
	}
	return page, nil
}

// writeErr reports a transaction that outgrew Badger's limit as an
// InvalidDocument on the key that tipped it over.
func writeErr(op, key string, err error) error {
	if errors.Is(err, badger.ErrTxnTooBig) {
		return dberr.InvalidDocument(record.HumanPath(key), "write too large for one badger transaction", err)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func (t *badgerTx) Put(ctx context.Context, e record.Entry) error {
	if err := t.txn.Set([]byte(e.Key), e.Value.Encode()); err != nil {
		return writeErr("put", e.Key, err)
	}
	return nil
}

func (t *badgerTx) DeleteRange(ctx context.Context, start, end string) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	var keys [][]byte
	it := t.txn.NewIterator(opts)
	for it.Seek([]byte(start)); it.Valid(); it.Next() {
		k := it.Item().KeyCopy(nil)
		if end != "" && string(k) >= end {
			break
		}
		keys = append(keys, k)
	}
	it.Close()

	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			return 0, writeErr("delete", string(k), err)
		}
	}
	return len(keys), nil
}
