package jsondb

import (
	"context"
	"io"
	"iter"
	"strings"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/migrate"
	"github.com/roach88/jsondb/internal/projector"
	"github.com/roach88/jsondb/internal/record"
	"github.com/roach88/jsondb/internal/store"
)

// Tx groups several writes into one atomic change. Events are published
// only after the whole transaction commits.
type Tx struct {
	db     *DB
	txn    *store.Txn
	result WriteResult
	events []Event
}

func (tx *Tx) emit(typ, k string) {
	tx.events = append(tx.events, Event{Type: typ, Path: record.HumanPath(k)})
}

// guardVersion rejects keys at or below the schema version marker, which
// only migrations write.
func guardVersion(k string) error {
	if strings.HasPrefix(k, migrate.VersionKey) {
		return dberr.InvalidPath(record.HumanPath(k), "%s is reserved for the schema version", record.HumanPath(migrate.VersionKey))
	}
	return nil
}

// guardEntries fails a root rewrite that carries the version marker.
func guardEntries(entries iter.Seq2[record.Entry, error]) iter.Seq2[record.Entry, error] {
	return func(yield func(record.Entry, error) bool) {
		for e, err := range entries {
			if err == nil {
				err = guardVersion(e.Key)
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// keepVersion runs fn and restores the schema version marker if fn removed
// it as part of rewriting the root.
func (tx *Tx) keepVersion(ctx context.Context, k string, fn func() error) error {
	if k != record.Root {
		return fn()
	}
	leaf, ok, err := tx.txn.GetLeaf(ctx, migrate.VersionKey)
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = tx.txn.PutLeaf(ctx, migrate.VersionKey, leaf)
	return err
}

func (tx *Tx) putSubtree(ctx context.Context, k string, entries iter.Seq2[record.Entry, error]) (WriteResult, error) {
	if err := guardVersion(k); err != nil {
		return WriteResult{}, err
	}
	var res WriteResult
	err := tx.keepVersion(ctx, k, func() error {
		var err error
		res, err = tx.txn.PutSubtree(ctx, k, tx.db.crypt.SealSeq(guardEntries(entries)))
		return err
	})
	if err != nil {
		return WriteResult{}, err
	}
	tx.result.Merge(res)
	return res, nil
}

// Set replaces the subtree at path with the JSON document in body. A body of
// exactly null deletes the path.
func (tx *Tx) Set(ctx context.Context, path string, body io.Reader) (WriteResult, error) {
	k, err := key(path)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := tx.putSubtree(ctx, k, projector.Entries(k, body))
	if err != nil {
		return res, err
	}
	if res.Written == 0 {
		tx.emit(EventDeleted, k)
	} else {
		tx.emit(EventUpdated, k)
	}
	return res, nil
}

// Push stores body under a new push key below path and returns the key.
func (tx *Tx) Push(ctx context.Context, path string, body io.Reader) (string, error) {
	k, err := key(path)
	if err != nil {
		return "", err
	}
	id := tx.db.keys.CreateKey()
	child := record.Join(k, id)
	if _, err := tx.putSubtree(ctx, child, projector.Entries(child, body)); err != nil {
		return "", err
	}
	tx.emit(EventUpdated, child)
	return id, nil
}

// Update replaces each child of path named in the object body. A null member
// deletes that child; children not named are left alone.
func (tx *Tx) Update(ctx context.Context, path string, body io.Reader) (WriteResult, error) {
	k, err := key(path)
	if err != nil {
		return WriteResult{}, err
	}
	var total WriteResult
	err = projector.Members(k, body, func(name string, value iter.Seq2[record.Entry, error]) error {
		res, err := tx.putSubtree(ctx, k+name+"/", value)
		if err != nil {
			return err
		}
		total.Merge(res)
		return nil
	})
	if err != nil {
		return total, err
	}
	tx.emit(EventUpdated, k)
	return total, nil
}

// Delete removes the subtree at path and reports whether anything was there.
func (tx *Tx) Delete(ctx context.Context, path string) (bool, error) {
	k, err := key(path)
	if err != nil {
		return false, err
	}
	if err := guardVersion(k); err != nil {
		return false, err
	}
	var deleted bool
	err = tx.keepVersion(ctx, k, func() error {
		var err error
		deleted, err = tx.txn.DeleteSubtree(ctx, k)
		return err
	})
	if err != nil || !deleted {
		return false, err
	}
	tx.emit(EventDeleted, k)
	return true, nil
}

// Exists reports whether anything is stored at or below path, including
// writes made earlier in the transaction.
func (tx *Tx) Exists(ctx context.Context, path string) (bool, error) {
	k, err := key(path)
	if err != nil {
		return false, err
	}
	return tx.txn.Exists(ctx, k)
}

// WithTransaction runs fn as one atomic write. If fn returns an error nothing
// it wrote is kept and no events are published.
func (db *DB) WithTransaction(ctx context.Context, fn func(*Tx) error) error {
	return db.write(ctx, "transaction", fn)
}

// Set replaces the subtree at path with the JSON document in body.
func (db *DB) Set(ctx context.Context, path string, body io.Reader) (WriteResult, error) {
	var res WriteResult
	err := db.write(ctx, "set", func(tx *Tx) error {
		var err error
		res, err = tx.Set(ctx, path, body)
		return err
	})
	return res, err
}

// Push stores body under a new push key below path and returns the key.
func (db *DB) Push(ctx context.Context, path string, body io.Reader) (string, error) {
	var id string
	err := db.write(ctx, "push", func(tx *Tx) error {
		var err error
		id, err = tx.Push(ctx, path, body)
		return err
	})
	return id, err
}

// Update merges the members of the object body into path, one child at a
// time.
func (db *DB) Update(ctx context.Context, path string, body io.Reader) (WriteResult, error) {
	var res WriteResult
	err := db.write(ctx, "update", func(tx *Tx) error {
		var err error
		res, err = tx.Update(ctx, path, body)
		return err
	})
	return res, err
}

// Delete removes the subtree at path.
func (db *DB) Delete(ctx context.Context, path string) (bool, error) {
	var deleted bool
	err := db.write(ctx, "delete", func(tx *Tx) error {
		var err error
		deleted, err = tx.Delete(ctx, path)
		return err
	})
	return deleted, err
}
