package store

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/record"
)

// PutSubtree replaces everything at or below base with entries. Every entry
// key must lie at or below base.
//
// A single null leaf at base deletes the subtree without storing anything.
func (t *Txn) PutSubtree(ctx context.Context, base string, entries iter.Seq2[record.Entry, error]) (WriteResult, error) {
	var res WriteResult
	if err := t.checkWritable("put subtree"); err != nil {
		return res, err
	}

	n, err := t.tx.DeleteRange(ctx, base, record.PrefixEnd(base))
	if err != nil {
		return res, fmt.Errorf("put subtree %s: %w", record.HumanPath(base), err)
	}
	res.Deleted += n

	r := t.newResolver(&res)
	first := true
	for e, err := range entries {
		if err != nil {
			return res, err
		}
		if !strings.HasPrefix(e.Key, base) {
			return res, dberr.InvalidPath(record.HumanPath(e.Key), "entry outside %s", record.HumanPath(base))
		}
		if first {
			first = false
			if e.Key == base && e.Value.Kind == record.KindNull {
				continue
			}
			if err := r.ancestors(ctx, base); err != nil {
				return res, err
			}
		}
		if err := t.put(ctx, e); err != nil {
			return res, err
		}
		res.Written++
	}
	return res, nil
}

// PatchSubtree merges entries into the store without touching siblings that
// are not mentioned. A null leaf deletes that location and its subtree.
func (t *Txn) PatchSubtree(ctx context.Context, base string, entries iter.Seq2[record.Entry, error]) (WriteResult, error) {
	var res WriteResult
	if err := t.checkWritable("patch subtree"); err != nil {
		return res, err
	}

	r := t.newResolver(&res)
	for e, err := range entries {
		if err != nil {
			return res, err
		}
		if !strings.HasPrefix(e.Key, base) {
			return res, dberr.InvalidPath(record.HumanPath(e.Key), "entry outside %s", record.HumanPath(base))
		}
		if err := t.patchOne(ctx, r, e); err != nil {
			return res, err
		}
	}
	return res, nil
}

// PutLeaf stores one leaf at key with the same rules as PatchSubtree.
func (t *Txn) PutLeaf(ctx context.Context, key string, leaf record.Leaf) (WriteResult, error) {
	var res WriteResult
	if err := t.checkWritable("put leaf"); err != nil {
		return res, err
	}
	err := t.patchOne(ctx, t.newResolver(&res), record.Entry{Key: key, Value: leaf})
	return res, err
}

func (t *Txn) patchOne(ctx context.Context, r *resolver, e record.Entry) error {
	if e.Value.Kind == record.KindNull {
		n, err := t.tx.DeleteRange(ctx, e.Key, record.PrefixEnd(e.Key))
		if err != nil {
			return fmt.Errorf("patch %s: %w", record.HumanPath(e.Key), err)
		}
		r.res.Deleted += n
		return nil
	}

	skip, err := r.descendants(ctx, e)
	if err != nil || skip {
		return err
	}
	if err := r.ancestors(ctx, e.Key); err != nil {
		return err
	}
	if err := t.put(ctx, e); err != nil {
		return err
	}
	r.res.Written++
	return nil
}

// DeleteSubtree removes everything at or below base and reports whether
// anything existed.
func (t *Txn) DeleteSubtree(ctx context.Context, base string) (bool, error) {
	if err := t.checkWritable("delete subtree"); err != nil {
		return false, err
	}
	n, err := t.tx.DeleteRange(ctx, base, record.PrefixEnd(base))
	if err != nil {
		return false, fmt.Errorf("delete subtree %s: %w", record.HumanPath(base), err)
	}
	return n > 0, nil
}

func (t *Txn) put(ctx context.Context, e record.Entry) error {
	e.Idx = t.index.indexFor(e.Key)
	return t.tx.Put(ctx, e)
}

// resolver applies the last-write-wins structural policy for one call,
// remembering which ancestor levels are already consistent.
type resolver struct {
	txn  *Txn
	res  *WriteResult
	done map[string]bool
}

func (t *Txn) newResolver(res *WriteResult) *resolver {
	return &resolver{txn: t, res: res, done: make(map[string]bool)}
}

func (r *resolver) conflict(key, message string, deleted int) {
	c := dberr.StructuralConflict(record.HumanPath(key), message)
	r.res.Conflicts = append(r.res.Conflicts, c)
	r.res.Deleted += deleted
	r.txn.index.logger.Warn("structural conflict resolved",
		"path", c.Path,
		"resolution", message,
		"deleted", deleted)
}

// ancestors makes every proper ancestor of key a container of the kind key
// needs: leaves stored at an ancestor are removed, and siblings of the
// opposite container kind are removed.
func (r *resolver) ancestors(ctx context.Context, key string) error {
	tx := r.txn.tx
	for _, anc := range record.Ancestors(key) {
		seg := key[len(anc):]
		seg = seg[:strings.IndexByte(seg, '/')]
		asArray := record.IsIndexSegment(seg)

		marker := anc + "|m"
		if asArray {
			marker = anc + "|i"
		}
		if r.done[marker] {
			continue
		}
		r.done[marker] = true

		leaf, ok, err := tx.Get(ctx, anc)
		if err != nil {
			return err
		}
		if ok {
			if _, err := tx.DeleteRange(ctx, anc, anc+"\x00"); err != nil {
				return fmt.Errorf("resolve %s: %w", record.HumanPath(anc), err)
			}
			compatible := (asArray && leaf == record.EmptyArray) || (!asArray && leaf == record.EmptyObject)
			if compatible {
				r.res.Deleted++
			} else {
				r.conflict(anc, fmt.Sprintf("replaced %s leaf with container", leaf.Kind), 1)
			}
		}

		if asArray {
			n, err := tx.DeleteRange(ctx, anc+"\x00", anc+"[")
			if err != nil {
				return fmt.Errorf("resolve %s: %w", record.HumanPath(anc), err)
			}
			m, err := tx.DeleteRange(ctx, anc+"\\", record.PrefixEnd(anc))
			if err != nil {
				return fmt.Errorf("resolve %s: %w", record.HumanPath(anc), err)
			}
			if n+m > 0 {
				r.conflict(anc, "replaced object members with array elements", n+m)
			}
		} else {
			n, err := tx.DeleteRange(ctx, anc+"[", anc+"\\")
			if err != nil {
				return fmt.Errorf("resolve %s: %w", record.HumanPath(anc), err)
			}
			if n > 0 {
				r.conflict(anc, "replaced array elements with object members", n)
			}
		}
	}
	return nil
}

// descendants clears anything stored below e.Key before a leaf is written
// there. Writing an empty-container marker over a non-empty container of the
// same kind changes nothing and reports skip.
func (r *resolver) descendants(ctx context.Context, e record.Entry) (skip bool, err error) {
	tx := r.txn.tx
	lo, hi := e.Key+"\x00", record.PrefixEnd(e.Key)

	if e.Value.IsContainerMarker() {
		var first string
		err := tx.Scan(ctx, Range{Start: lo, End: hi, Limit: 1}, func(x record.Entry) error {
			first = x.Key
			return ErrStop
		})
		if err != nil {
			return false, err
		}
		if first == "" {
			return false, nil
		}
		childIsIndex := first[len(e.Key)] == record.IndexMarker
		if childIsIndex == (e.Value == record.EmptyArray) {
			return true, nil
		}
	}

	n, err := tx.DeleteRange(ctx, lo, hi)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", record.HumanPath(e.Key), err)
	}
	if n > 0 {
		r.conflict(e.Key, fmt.Sprintf("replaced container with %s leaf", e.Value.Kind), n)
	}
	return false, nil
}
