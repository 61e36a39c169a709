package store

import (
	"context"
	"errors"
	"iter"
	"sort"
	"strings"

	"github.com/roach88/jsondb/internal/record"
)

// GetSubtree yields the entries at or below base in key order.
//
// Without child-scoped options this is a single prefix scan. With them, the
// children of base are visited one at a time: each child's first key is found
// with a bounded scan and then the child's whole subtree is read, so Limit
// and the bounds apply to children, not to leaves.
//
// A leaf stored exactly at base is yielded as-is regardless of options.
func (t *Txn) GetSubtree(ctx context.Context, base string, opts SubtreeOptions) iter.Seq2[record.Entry, error] {
	return func(yield func(record.Entry, error) bool) {
		emit := collapse(base, opts.Depth, yield)

		scanFn := func(e record.Entry) error {
			if !emit(e) {
				return errBreak
			}
			return nil
		}

		if !opts.ChildScoped() {
			if err := t.tx.Scan(ctx, PrefixRange(base), scanFn); err != nil && !errors.Is(err, errBreak) {
				yield(record.Entry{}, err)
			}
			return
		}

		leaf, ok, err := t.tx.Get(ctx, base)
		if err != nil {
			yield(record.Entry{}, err)
			return
		}
		if ok {
			emit(record.Entry{Key: base, Value: leaf})
			return
		}

		if err := t.walkChildren(ctx, base, opts, scanFn); err != nil && !errors.Is(err, errBreak) {
			yield(record.Entry{}, err)
		}
	}
}

// errBreak ends a scan when the consumer of an iterator stops early.
var errBreak = errors.New("iteration stopped")

// childBounds returns the key range [lo, hi) holding the selected children.
func childBounds(base string, opts SubtreeOptions) (lo, hi string) {
	lo, hi = base, record.PrefixEnd(base)
	if opts.StartAt != "" {
		lo = maxKey(lo, base+opts.StartAt+"/")
	}
	if opts.StartAfter != "" {
		lo = maxKey(lo, record.PrefixEnd(base+opts.StartAfter+"/"))
	}
	if opts.EndAt != "" {
		hi = minKey(hi, record.PrefixEnd(base+opts.EndAt+"/"))
	}
	if opts.EndBefore != "" {
		hi = minKey(hi, base+opts.EndBefore+"/")
	}
	return lo, hi
}

func (t *Txn) walkChildren(ctx context.Context, base string, opts SubtreeOptions, fn func(record.Entry) error) error {
	lo, hi := childBounds(base, opts)

	for n := 0; opts.Limit <= 0 || n < opts.Limit; n++ {
		if hi != "" && lo >= hi {
			return nil
		}

		var first string
		err := t.tx.Scan(ctx, Range{Start: lo, End: hi, Reverse: opts.Reverse, Limit: 1}, func(e record.Entry) error {
			first = e.Key
			return ErrStop
		})
		if err != nil {
			return err
		}
		if first == "" {
			return nil
		}

		rel := first[len(base):]
		child := base + rel[:strings.IndexByte(rel, '/')+1]

		if err := t.tx.Scan(ctx, PrefixRange(child), fn); err != nil {
			return err
		}

		if opts.Reverse {
			hi = child
		} else {
			lo = record.PrefixEnd(child)
		}
	}
	return nil
}

// collapse wraps yield so entries deeper than depth below base are replaced
// by one true leaf at depth. Consecutive duplicates are dropped; entries of
// one child are always contiguous.
func collapse(base string, depth int, yield func(record.Entry, error) bool) func(record.Entry) bool {
	if depth <= 0 {
		return func(e record.Entry) bool {
			return yield(e, nil)
		}
	}

	var last string
	return func(e record.Entry) bool {
		rel := record.Relative(base, e.Key)
		if len(rel) <= depth {
			return yield(e, nil)
		}
		key := record.Join(base, rel[:depth]...)
		if key == last {
			return true
		}
		last = key
		return yield(record.Entry{Key: key, Value: record.True}, nil)
	}
}

func maxKey(a, b string) string {
	if a > b {
		return a
	}
	return b
}

func minKey(a, b string) string {
	if a < b {
		return a
	}
	return b
}

// Exists reports whether anything is stored at or below base.
func (t *Txn) Exists(ctx context.Context, base string) (bool, error) {
	found := false
	err := t.tx.Scan(ctx, Range{Start: base, End: record.PrefixEnd(base), Limit: 1}, func(record.Entry) error {
		found = true
		return ErrStop
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Count returns the number of leaves at or below base.
func (t *Txn) Count(ctx context.Context, base string) (int, error) {
	n := 0
	err := t.tx.Scan(ctx, PrefixRange(base), func(record.Entry) error {
		n++
		return nil
	})
	return n, err
}

// GetLeaf returns the leaf stored exactly at key.
func (t *Txn) GetLeaf(ctx context.Context, key string) (record.Leaf, bool, error) {
	return t.tx.Get(ctx, key)
}

// Scan exposes a raw range scan.
func (t *Txn) Scan(ctx context.Context, r Range, fn func(record.Entry) error) error {
	return t.tx.Scan(ctx, r, fn)
}

// Collect reads a whole subtree into memory.
func (t *Txn) Collect(ctx context.Context, base string, opts SubtreeOptions) ([]record.Entry, error) {
	var out []record.Entry
	for e, err := range t.GetSubtree(ctx, base, opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FindByProperty returns the decoded ids of the children of collection whose
// field member equals value, sorted. A declared property index is used when
// the backend supports lookups; otherwise the collection is scanned.
func (t *Txn) FindByProperty(ctx context.Context, collection, field string, value record.Leaf) ([]string, error) {
	fieldSeg := record.EncodeSegment(field)

	var keys []string
	idx := ""
	for _, p := range t.index.indexes {
		if p.Collection == collection && p.Field == fieldSeg {
			idx = p.Name
			break
		}
	}

	if lookup, ok := t.tx.(IndexLookup); ok && idx != "" {
		found, err := lookup.LookupIndex(ctx, idx, value)
		if err != nil {
			return nil, err
		}
		keys = found
	} else {
		want := string(value.Encode())
		err := t.tx.Scan(ctx, PrefixRange(collection), func(e record.Entry) error {
			rel := record.Relative(collection, e.Key)
			if len(rel) == 2 && rel[1] == fieldSeg && string(e.Value.Encode()) == want {
				keys = append(keys, e.Key)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(keys))
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		rel := record.Relative(collection, key)
		if len(rel) == 0 {
			continue
		}
		id := record.DecodeSegment(rel[0])
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
