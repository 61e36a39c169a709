package store

import (
	"context"
	"iter"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/jsondb/internal/record"
)

// createTestIndex creates an Index over a fresh SQLite database.
func createTestIndex(t *testing.T, opts ...Option) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ix, err := NewIndex(s, opts...)
	if err != nil {
		s.Close()
		t.Fatalf("NewIndex() failed: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

// key converts a human path to its DB key.
func key(path string) string {
	k, err := record.KeyOf(path)
	if err != nil {
		panic(err)
	}
	return k
}

// at builds an entry from a human path.
func at(path string, leaf record.Leaf) record.Entry {
	return record.Entry{Key: key(path), Value: leaf}
}

// entries adapts a slice to the iterator form the write operations take.
func entries(es ...record.Entry) iter.Seq2[record.Entry, error] {
	return func(yield func(record.Entry, error) bool) {
		for _, e := range es {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// dump returns every stored entry as human path -> leaf.
func dump(t *testing.T, ix *Index) map[string]record.Leaf {
	t.Helper()
	out := make(map[string]record.Leaf)
	err := ix.Read(context.Background(), func(txn *Txn) error {
		return txn.Scan(context.Background(), PrefixRange(record.Root), func(e record.Entry) error {
			out[record.HumanPath(e.Key)] = e.Value
			return nil
		})
	})
	if err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	return out
}

// storedKeys returns every stored DB key in order.
func storedKeys(t *testing.T, ix *Index) []string {
	t.Helper()
	var keys []string
	err := ix.Read(context.Background(), func(txn *Txn) error {
		return txn.Scan(context.Background(), PrefixRange(record.Root), func(e record.Entry) error {
			keys = append(keys, e.Key)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("storedKeys failed: %v", err)
	}
	return keys
}

// checkExclusive fails the test if a stored key is a strict prefix of another
// or a container holds both index and member children.
func checkExclusive(t *testing.T, keys []string) {
	t.Helper()
	for i := 1; i < len(keys); i++ {
		// Sorted order puts any prefix directly before a key that extends it.
		if strings.HasPrefix(keys[i], keys[i-1]) {
			t.Fatalf("stored key %q is a prefix of %q", keys[i-1], keys[i])
		}
	}

	kinds := make(map[string]bool)
	for _, k := range keys {
		for _, anc := range record.Ancestors(k) {
			seg := record.Segments(k[len(anc)-1:])[0]
			isIndex := record.IsIndexSegment(seg)
			if prev, ok := kinds[anc]; ok && prev != isIndex {
				t.Fatalf("container %q holds both index and member children", anc)
			}
			kinds[anc] = isIndex
		}
	}
}

func writeSubtree(t *testing.T, ix *Index, path string, es ...record.Entry) WriteResult {
	t.Helper()
	var res WriteResult
	err := ix.Write(context.Background(), func(txn *Txn) error {
		var err error
		res, err = txn.PutSubtree(context.Background(), key(path), entries(es...))
		return err
	})
	if err != nil {
		t.Fatalf("PutSubtree(%s) failed: %v", path, err)
	}
	return res
}

func patchSubtree(t *testing.T, ix *Index, path string, es ...record.Entry) WriteResult {
	t.Helper()
	var res WriteResult
	err := ix.Write(context.Background(), func(txn *Txn) error {
		var err error
		res, err = txn.PatchSubtree(context.Background(), key(path), entries(es...))
		return err
	})
	if err != nil {
		t.Fatalf("PatchSubtree(%s) failed: %v", path, err)
	}
	return res
}
