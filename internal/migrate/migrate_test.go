package migrate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsondb/internal/crypt"
	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/keygen"
	"github.com/roach88/jsondb/internal/projector"
	"github.com/roach88/jsondb/internal/record"
	"github.com/roach88/jsondb/internal/store"
)

func createTestIndex(t *testing.T) *store.Index {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	ix, err := store.NewIndex(db)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func seed(t *testing.T, ix *store.Index, path, doc string) {
	t.Helper()
	ctx := context.Background()
	key, err := record.KeyOf(path)
	require.NoError(t, err)
	err = ix.Write(ctx, func(txn *store.Txn) error {
		_, err := txn.PutSubtree(ctx, key, projector.Entries(key, strings.NewReader(doc)))
		return err
	})
	require.NoError(t, err)
}

// dump renders the whole store, sealed leaves in their prefixed form.
func dump(t *testing.T, ix *store.Index) string {
	t.Helper()
	ctx := context.Background()
	var buf bytes.Buffer
	err := ix.Read(ctx, func(txn *store.Txn) error {
		entries, err := txn.Collect(ctx, record.Root, store.SubtreeOptions{})
		if err != nil {
			return err
		}
		for i := range entries {
			entries[i] = crypt.Armor(entries[i])
		}
		return projector.Render(&buf, record.Root, projector.Slice(entries), projector.Options{})
	})
	require.NoError(t, err)
	return buf.String()
}

func version(t *testing.T, ix *store.Index) int {
	t.Helper()
	ctx := context.Background()
	var v int
	require.NoError(t, ix.Read(ctx, func(txn *store.Txn) error {
		var err error
		v, err = ReadVersion(ctx, txn)
		return err
	}))
	return v
}

func apply(t *testing.T, ix *store.Index, a *crypt.Adapter, fn Transform) error {
	t.Helper()
	ctx := context.Background()
	return ix.Write(ctx, func(txn *store.Txn) error {
		return fn(ctx, &Step{Txn: txn, Logger: slog.Default(), Crypt: a})
	})
}

// applyTwice checks that a transform reaches a fixed point after one run.
func applyTwice(t *testing.T, ix *store.Index, a *crypt.Adapter, fn Transform) string {
	t.Helper()
	require.NoError(t, apply(t, ix, a, fn))
	once := dump(t, ix)
	require.NoError(t, apply(t, ix, a, fn))
	assert.Equal(t, once, dump(t, ix), "second run changed the store")
	return once
}

func TestRegister_Panics(t *testing.T) {
	noop := func(context.Context, *Step) error { return nil }

	assert.Panics(t, func() { New().Register(0, "zero", noop) })
	assert.Panics(t, func() { New().Register(-1, "neg", noop) })
	assert.Panics(t, func() { New().Register(1, "nil", nil) })
	assert.Panics(t, func() { New().Register(1, "a", noop).Register(1, "b", noop) })
}

func TestMigrator_LatestAndVersions(t *testing.T) {
	noop := func(context.Context, *Step) error { return nil }
	m := New().Register(3, "c", noop).Register(1, "a", noop).Register(2, "b", noop)

	assert.Equal(t, 3, m.Latest())
	assert.Equal(t, []int{1, 2, 3}, m.Versions())
	assert.Equal(t, 0, New().Latest())
}

func TestMigrate_AppliesInOrder(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/users", `{"u1":{"name":"ann"}}`)

	var order []int
	mark := func(v int) Transform {
		return func(ctx context.Context, s *Step) error {
			order = append(order, v)
			assert.Equal(t, v, s.Version)
			assert.NotEmpty(t, s.RunID)
			return nil
		}
	}
	m := New().
		Register(1, "one", mark(1)).
		Register(2, "rename", Rename("/users", "/people")).
		Register(3, "three", mark(3))

	res, err := m.Migrate(context.Background(), ix, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, res.From)
	assert.Equal(t, 3, res.To)
	assert.Equal(t, []int{1, 2, 3}, res.Applied)
	assert.Equal(t, []int{1, 3}, order)
	assert.Equal(t, 3, version(t, ix))
	assert.JSONEq(t, `{"people":{"u1":{"name":"ann"}},"schema-version":3}`, dump(t, ix))
}

func TestMigrate_RunIDs(t *testing.T) {
	ix := createTestIndex(t)

	var seen []string
	mark := func(ctx context.Context, s *Step) error {
		seen = append(seen, s.RunID)
		return nil
	}
	m := New(WithRunIDs(keygen.NewFixedGenerator("run-1", "run-2"))).
		Register(1, "one", mark).
		Register(2, "two", mark)

	res, err := m.Migrate(context.Background(), ix, 1)
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)

	res, err = m.Migrate(context.Background(), ix, 2)
	require.NoError(t, err)
	assert.Equal(t, "run-2", res.RunID)
	assert.Equal(t, []string{"run-1", "run-2"}, seen, "steps see the run they belong to")

	// Default run IDs are UUIDv7.
	res, err = New().Migrate(context.Background(), ix, 0)
	require.NoError(t, err)
	assert.Len(t, res.RunID, 36)
}

func TestMigrate_Idempotent(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/cfg", `{"a":1}`)

	runs := 0
	m := New().Register(1, "patch", func(ctx context.Context, s *Step) error {
		runs++
		return MergePatch("/cfg", []byte(`{"b":2}`))(ctx, s)
	})

	_, err := m.Migrate(context.Background(), ix, 1)
	require.NoError(t, err)
	first := dump(t, ix)

	res, err := m.Migrate(context.Background(), ix, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Equal(t, 1, runs)
	assert.Equal(t, first, dump(t, ix))
}

func TestMigrate_TargetBelowCurrent(t *testing.T) {
	ix := createTestIndex(t)
	noop := func(context.Context, *Step) error { return nil }
	m := New().Register(1, "a", noop).Register(2, "b", noop)

	_, err := m.Migrate(context.Background(), ix, 2)
	require.NoError(t, err)

	res, err := m.Migrate(context.Background(), ix, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.From)
	assert.Equal(t, 2, res.To)
	assert.Equal(t, 2, version(t, ix))
}

func TestMigrate_GapRejected(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/x", `1`)

	applied := false
	m := New().
		Register(1, "one", func(context.Context, *Step) error { applied = true; return nil }).
		Register(3, "three", func(context.Context, *Step) error { return nil })

	_, err := m.Migrate(context.Background(), ix, 3)
	require.Error(t, err)
	assert.True(t, dberr.IsMigrationGap(err))
	assert.True(t, dberr.IsFatal(err))

	var dbErr *dberr.Error
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, 2, dbErr.Version)

	assert.False(t, applied, "nothing runs when a version is missing")
	assert.Equal(t, 0, version(t, ix))
	assert.JSONEq(t, `{"x":1}`, dump(t, ix))
}

func TestMigrate_TransformFailure(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/x", `1`)

	m := New().
		Register(1, "ok", SetDefault("/y", 2)).
		Register(2, "bad", func(ctx context.Context, s *Step) error {
			if err := s.Write(ctx, "/z", 3); err != nil {
				return err
			}
			return errors.New("boom")
		})

	res, err := m.Migrate(context.Background(), ix, 2)
	require.Error(t, err)
	assert.True(t, dberr.IsMigrationFailed(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []int{1}, res.Applied)

	assert.Equal(t, 1, version(t, ix))
	assert.JSONEq(t, `{"x":1,"y":2,"schema-version":1}`, dump(t, ix), "failed step rolled back")
}

func TestMigrate_CorruptVersion(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/schema-version", `"three"`)

	_, err := New().Migrate(context.Background(), ix, 1)
	require.Error(t, err)
	assert.True(t, dberr.IsCorruptData(err))
}

func TestRename(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/", `{"old":{"a":[1,2],"b":{}},"new":"replaced"}`)

	got := applyTwice(t, ix, nil, Rename("/old", "/new"))
	assert.JSONEq(t, `{"new":{"a":[1,2],"b":{}}}`, got)

	err := apply(t, ix, nil, Rename("/new", "/new/inner"))
	require.Error(t, err)
}

func TestSplit(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/", `{"user":{"name":"ann","street":"main","city":"x"}}`)

	fn := func(v any) (map[string]any, error) {
		u := v.(map[string]any)
		return map[string]any{
			"/user":         map[string]any{"name": u["name"]},
			"/user/address": map[string]any{"street": u["street"], "city": u["city"]},
		}, nil
	}

	require.NoError(t, apply(t, ix, nil, Split("/legacy", fn)), "missing source is a no-op")

	require.NoError(t, apply(t, ix, nil, Split("/user", fn)))
	assert.JSONEq(t, `{"user":{"name":"ann","address":{"street":"main","city":"x"}}}`, dump(t, ix))

	failing := func(any) (map[string]any, error) { return nil, errors.New("bad shape") }
	require.Error(t, apply(t, ix, nil, Split("/user", failing)))
}

func TestSetDefault(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/settings/theme", `"dark"`)

	got := applyTwice(t, ix, nil, SetDefault("/settings/theme", "light"))
	assert.JSONEq(t, `{"settings":{"theme":"dark"}}`, got)

	got = applyTwice(t, ix, nil, SetDefault("/settings/limits", map[string]any{"max": 10}))
	assert.JSONEq(t, `{"settings":{"theme":"dark","limits":{"max":10}}}`, got)
}

func TestMergePatch(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/cfg", `{"a":1,"b":{"c":2,"d":3}}`)

	got := applyTwice(t, ix, nil, MergePatch("/cfg", []byte(`{"b":{"c":null,"e":4},"f":[1]}`)))
	assert.JSONEq(t, `{"cfg":{"a":1,"b":{"d":3,"e":4},"f":[1]}}`, got)

	got = applyTwice(t, ix, nil, MergePatch("/fresh", []byte(`{"x":true}`)))
	assert.JSONEq(t, `{"cfg":{"a":1,"b":{"d":3,"e":4},"f":[1]},"fresh":{"x":true}}`, got)

	require.Error(t, apply(t, ix, nil, MergePatch("/cfg", []byte(`{`))))
}

func TestEncryptField(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/", `{"connections":{"db":{"user":"admin","password":"s3cret"},"mq":{"password":"other"}}}`)

	c, err := crypt.NewCipher("migration test secret")
	require.NoError(t, err)
	a := crypt.NewAdapter(c, nil)

	require.Error(t, apply(t, ix, nil, EncryptField("/connections/*/password")), "needs a key")

	first := applyTwice(t, ix, a, EncryptField("/connections/*/password"))
	assert.NotContains(t, first, "s3cret")
	assert.NotContains(t, first, "other")
	assert.Contains(t, first, `"user":"admin"`)

	ctx := context.Background()
	require.NoError(t, ix.Read(ctx, func(txn *store.Txn) error {
		leaf, ok, err := txn.GetLeaf(ctx, "/connections/db/password/")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, record.KindSealed, leaf.Kind)

		opened, err := a.Open(record.Entry{Key: "/connections/db/password/", Value: leaf})
		require.NoError(t, err)
		assert.Equal(t, record.String("s3cret"), opened.Value)
		return nil
	}))
}

func TestStep_PreservesCiphertext(t *testing.T) {
	ix := createTestIndex(t)
	c, err := crypt.NewCipher("migration test secret")
	require.NoError(t, err)
	m, err := crypt.NewMarker(nil, []string{"token"})
	require.NoError(t, err)
	a := crypt.NewAdapter(c, m)

	seed(t, ix, "/svc", `{"name":"x","token":"t0k"}`)
	require.NoError(t, apply(t, ix, a, EncryptField("/svc/token")))
	before := dump(t, ix)

	// Rewriting the document without a key keeps the sealed leaf intact.
	require.NoError(t, apply(t, ix, nil, MergePatch("/svc", []byte(`{"name":"y"}`))))
	after := dump(t, ix)
	assert.NotEqual(t, before, after)

	ctx := context.Background()
	require.NoError(t, ix.Read(ctx, func(txn *store.Txn) error {
		leaf, _, err := txn.GetLeaf(ctx, "/svc/token/")
		require.NoError(t, err)
		assert.Equal(t, record.KindSealed, leaf.Kind)
		opened, err := a.Open(record.Entry{Key: "/svc/token/", Value: leaf})
		require.NoError(t, err)
		assert.Equal(t, record.String("t0k"), opened.Value)
		return nil
	}))
}

func TestPlan(t *testing.T) {
	ix := createTestIndex(t)
	seed(t, ix, "/", `{"users":{"u1":"ann"},"settings":{"theme":"light","legacy":true}}`)

	plan, err := LoadPlan("testdata/plan.yaml")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)

	m := New()
	require.NoError(t, plan.Register(m))
	assert.Equal(t, 3, m.Latest())

	res, err := m.Migrate(context.Background(), ix, m.Latest())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, res.Applied)
	assert.JSONEq(t,
		`{"people":{"u1":"ann"},"settings":{"theme":"dark"},"limits":{"max":10},"schema-version":3}`,
		dump(t, ix))
}

func TestPlan_Invalid(t *testing.T) {
	tests := map[string]string{
		"no operation":   "steps:\n  - version: 1\n",
		"two operations": "steps:\n  - version: 1\n    rename: {from: /a, to: /b}\n    set_default: {path: /c, value: 1}\n",
		"zero version":   "steps:\n  - version: 0\n    rename: {from: /a, to: /b}\n",
		"duplicate":      "steps:\n  - version: 1\n    rename: {from: /a, to: /b}\n  - version: 1\n    rename: {from: /b, to: /c}\n",
		"no patterns":    "steps:\n  - version: 1\n    encrypt_field: {patterns: []}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			plan, err := ReadPlan(strings.NewReader(doc))
			require.NoError(t, err)
			assert.Error(t, plan.Register(New()))
		})
	}

	_, err := ReadPlan(strings.NewReader("steps:\n  - version: 1\n    drop: /x\n"))
	assert.Error(t, err, "unknown field")
}
