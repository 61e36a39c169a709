package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/roach88/jsondb/internal/crypt"
	"github.com/roach88/jsondb/internal/projector"
	"github.com/roach88/jsondb/internal/record"
	"github.com/roach88/jsondb/internal/store"
)

// Step is the view a Transform gets of the store: a writable transaction
// plus the run context. Sealed leaves read through Step keep their
// ciphertext, in the prefixed string form, and are sealed again on write.
type Step struct {
	*store.Txn

	Version int
	Name    string
	RunID   string
	Logger  *slog.Logger
	Crypt   *crypt.Adapter
}

func (s *Step) armored(ctx context.Context, key string) ([]record.Entry, error) {
	entries, err := s.Collect(ctx, key, store.SubtreeOptions{})
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i] = crypt.Armor(entries[i])
	}
	return entries, nil
}

// ReadJSON renders the document at path. ok is false when nothing is stored.
func (s *Step) ReadJSON(ctx context.Context, path string) (doc []byte, ok bool, err error) {
	key, err := record.KeyOf(path)
	if err != nil {
		return nil, false, err
	}
	entries, err := s.armored(ctx, key)
	if err != nil || len(entries) == 0 {
		return nil, false, err
	}
	var buf bytes.Buffer
	if err := projector.Render(&buf, key, projector.Slice(entries), projector.Options{}); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

// Read returns the document at path as a generic value.
func (s *Step) Read(ctx context.Context, path string) (v any, ok bool, err error) {
	key, err := record.KeyOf(path)
	if err != nil {
		return nil, false, err
	}
	entries, err := s.armored(ctx, key)
	if err != nil || len(entries) == 0 {
		return nil, false, err
	}
	v, err = projector.Document(key, projector.Slice(entries))
	return v, err == nil, err
}

// WriteJSON replaces the subtree at path with doc.
func (s *Step) WriteJSON(ctx context.Context, path string, doc []byte) error {
	key, err := record.KeyOf(path)
	if err != nil {
		return err
	}
	res, err := s.PutSubtree(ctx, key, s.Crypt.SealSeq(projector.Entries(key, bytes.NewReader(doc))))
	if err != nil {
		return err
	}
	s.Logger.Debug("subtree rewritten", "path", path, "written", res.Written, "deleted", res.Deleted)
	return nil
}

// Write replaces the subtree at path with v.
func (s *Step) Write(ctx context.Context, path string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return s.WriteJSON(ctx, path, doc)
}

// Delete removes the subtree at path.
func (s *Step) Delete(ctx context.Context, path string) (bool, error) {
	key, err := record.KeyOf(path)
	if err != nil {
		return false, err
	}
	return s.DeleteSubtree(ctx, key)
}

// Rename moves the subtree at from to to, replacing whatever is at to. A
// missing source is a no-op.
func Rename(from, to string) Transform {
	return func(ctx context.Context, s *Step) error {
		fromKey, err := record.KeyOf(from)
		if err != nil {
			return err
		}
		toKey, err := record.KeyOf(to)
		if err != nil {
			return err
		}
		if strings.HasPrefix(toKey, fromKey) || strings.HasPrefix(fromKey, toKey) {
			return fmt.Errorf("rename %s to %s: paths overlap", from, to)
		}

		entries, err := s.Collect(ctx, fromKey, store.SubtreeOptions{})
		if err != nil || len(entries) == 0 {
			return err
		}
		for i := range entries {
			entries[i].Key = toKey + entries[i].Key[len(fromKey):]
		}
		if _, err := s.PutSubtree(ctx, toKey, projector.Slice(entries)); err != nil {
			return err
		}
		if _, err := s.DeleteSubtree(ctx, fromKey); err != nil {
			return err
		}
		s.Logger.Info("renamed", "from", from, "to", to, "entries", len(entries))
		return nil
	}
}

// Split replaces the document at from with the documents fn derives from
// it, keyed by path. The source is deleted first, so targets may lie below
// it. A missing source is a no-op.
func Split(from string, fn func(v any) (map[string]any, error)) Transform {
	return func(ctx context.Context, s *Step) error {
		v, ok, err := s.Read(ctx, from)
		if err != nil || !ok {
			return err
		}
		parts, err := fn(v)
		if err != nil {
			return fmt.Errorf("split %s: %w", from, err)
		}
		if _, err := s.Delete(ctx, from); err != nil {
			return err
		}

		paths := make([]string, 0, len(parts))
		for p := range parts {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			if err := s.Write(ctx, p, parts[p]); err != nil {
				return err
			}
		}
		s.Logger.Info("split", "from", from, "parts", len(paths))
		return nil
	}
}

// EncryptField seals the plaintext leaves matching the given path patterns
// (see crypt.NewMarker). Leaves that are already sealed are left alone.
func EncryptField(patterns ...string) Transform {
	return func(ctx context.Context, s *Step) error {
		c := s.Crypt.Cipher()
		if c == nil {
			return fmt.Errorf("encrypt %v: no encryption key configured", patterns)
		}
		marker, err := crypt.NewMarker(patterns, nil)
		if err != nil {
			return err
		}
		a := crypt.NewAdapter(c, marker)

		entries, err := s.Collect(ctx, record.Root, store.SubtreeOptions{})
		if err != nil {
			return err
		}
		sealed := 0
		for _, e := range entries {
			if e.Key == VersionKey || e.Value.Kind == record.KindSealed {
				continue
			}
			out, err := a.Seal(e)
			if err != nil {
				return err
			}
			if out.Value == e.Value {
				continue
			}
			if _, err := s.PutLeaf(ctx, out.Key, out.Value); err != nil {
				return err
			}
			sealed++
		}
		s.Logger.Info("sealed leaves", "patterns", patterns, "count", sealed)
		return nil
	}
}

// MergePatch applies an RFC 7386 merge patch to the object at path. A
// missing document is patched as an empty object.
func MergePatch(path string, patch []byte) Transform {
	return func(ctx context.Context, s *Step) error {
		if !json.Valid(patch) {
			return fmt.Errorf("merge patch for %s is not valid JSON", path)
		}
		doc, ok, err := s.ReadJSON(ctx, path)
		if err != nil {
			return err
		}
		if !ok {
			doc = []byte("{}")
		}
		merged, err := jsonpatch.MergePatch(doc, patch)
		if err != nil {
			return fmt.Errorf("merge patch %s: %w", path, err)
		}
		return s.WriteJSON(ctx, path, merged)
	}
}

// SetDefault writes v at path unless something is already stored there.
func SetDefault(path string, v any) Transform {
	return func(ctx context.Context, s *Step) error {
		key, err := record.KeyOf(path)
		if err != nil {
			return err
		}
		exists, err := s.Exists(ctx, key)
		if err != nil || exists {
			return err
		}
		return s.Write(ctx, path, v)
	}
}
