package jsondb

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/projector"
	"github.com/roach88/jsondb/internal/record"
	"github.com/roach88/jsondb/internal/store"
)

// Child orders.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// GetOptions shapes a read.
type GetOptions struct {
	// Pretty indents the output.
	Pretty bool

	// Shallow replaces every child container with true. Same as Depth 1.
	Shallow bool

	// Depth > 0 replaces content deeper than Depth levels with true.
	Depth int

	// Callback wraps the output as Callback(<document>).
	Callback string

	// Silent checks presence only; nothing is written.
	Silent bool

	// Order of children, OrderAsc (default) or OrderDesc.
	Order string

	// Bounds on child names. Array positions are given as decimal strings.
	StartAt    string
	StartAfter string
	EndAt      string
	EndBefore  string

	// Limit caps the number of children. <= 0 means no limit.
	Limit int
}

func (o GetOptions) subtree(path string) (store.SubtreeOptions, error) {
	so := store.SubtreeOptions{
		Depth: o.Depth,
		Limit: o.Limit,
	}
	if o.Shallow {
		so.Depth = 1
	}
	switch o.Order {
	case "", OrderAsc:
	case OrderDesc:
		so.Reverse = true
	default:
		return so, dberr.InvalidDocument(path, fmt.Sprintf("unknown order %q", o.Order), nil)
	}
	if o.Depth < 0 {
		return so, dberr.InvalidDocument(path, "depth must not be negative", nil)
	}

	bounds := []struct {
		in  string
		out *string
	}{
		{o.StartAt, &so.StartAt},
		{o.StartAfter, &so.StartAfter},
		{o.EndAt, &so.EndAt},
		{o.EndBefore, &so.EndBefore},
	}
	for _, b := range bounds {
		if b.in == "" {
			continue
		}
		if err := record.ValidateSegment(b.in); err != nil {
			return so, err
		}
		*b.out = record.EncodeSegment(b.in)
	}
	return so, nil
}

// collect copies the decrypted entries selected by opts. It returns NotFound
// when nothing matches.
func (db *DB) collect(ctx context.Context, op, path string, opts GetOptions) (string, []record.Entry, store.SubtreeOptions, error) {
	k, err := key(path)
	if err != nil {
		return "", nil, store.SubtreeOptions{}, err
	}
	so, err := opts.subtree(path)
	if err != nil {
		return "", nil, so, err
	}

	var entries []record.Entry
	err = db.read(ctx, op, func(txn *store.Txn) error {
		for e, err := range db.crypt.OpenSeq(txn.GetSubtree(ctx, k, so)) {
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		if len(entries) == 0 {
			return dberr.NotFound(record.HumanPath(k))
		}
		return nil
	})
	return k, entries, so, err
}

// Stream writes the document at path to w. The entries are copied under the
// read lock and written after it is released.
func (db *DB) Stream(ctx context.Context, path string, w io.Writer, opts GetOptions) error {
	if opts.Callback != "" && !projector.ValidCallback(opts.Callback) {
		return dberr.InvalidDocument(path, fmt.Sprintf("invalid callback name %q", opts.Callback), nil)
	}
	k, entries, so, err := db.collect(ctx, "get", path, opts)
	if err != nil {
		return err
	}
	if opts.Silent {
		return nil
	}
	return projector.Render(w, k, projector.Slice(entries), projector.Options{
		Pretty:   opts.Pretty,
		Callback: opts.Callback,
		Loose:    so.ChildScoped(),
	})
}

// Get returns the document at path as JSON.
func (db *DB) Get(ctx context.Context, path string, opts GetOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := db.Stream(ctx, path, &buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetDocument returns the document at path as a generic value. Numbers are
// json.Number.
func (db *DB) GetDocument(ctx context.Context, path string, opts GetOptions) (any, error) {
	k, entries, _, err := db.collect(ctx, "get_document", path, opts)
	if err != nil {
		return nil, err
	}
	return projector.Document(k, projector.Slice(entries))
}

// Exists reports whether anything is stored at or below path.
func (db *DB) Exists(ctx context.Context, path string) (bool, error) {
	k, err := key(path)
	if err != nil {
		return false, err
	}
	var ok bool
	err = db.read(ctx, "exists", func(txn *store.Txn) error {
		var err error
		ok, err = txn.Exists(ctx, k)
		return err
	})
	return ok, err
}
