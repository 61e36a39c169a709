package projector

import (
	"bytes"
	"encoding/json"
	"errors"
	"iter"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/record"
)

const sampleDoc = `{
	"tags": ["a", "b"],
	"name": "jsondb",
	"nested": {"ok": true, "none": null, "n": 1.5, "list": [], "empty": {}}
}`

// stored decodes doc and sorts the entries the way the Path Index returns
// them.
func stored(t *testing.T, base, doc string) []record.Entry {
	t.Helper()
	var out []record.Entry
	for e, err := range Entries(base, strings.NewReader(doc)) {
		require.NoError(t, err)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func render(t *testing.T, base string, es []record.Entry, opts Options) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, base, Slice(es), opts))
	return buf.String()
}

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

func TestRoundTrip(t *testing.T) {
	docs := []string{
		`null`,
		`true`,
		`"just a string"`,
		`-12.5e3`,
		`{}`,
		`[]`,
		`[1, null, 3]`,
		`[null, null]`,
		`{"a": {"b": {"c": [1, [2, [3, {}]]]}}}`,
		`{"name": "café", "esc": "line\nbreak \"quoted\" \\ tab\t", "ctl": "\u0001"}`,
		`{"0": "numeric member", "x": [[], {}, [[]]]}`,
		`{"big": 123456789012345678901234567890, "neg": -0.0}`,
		sampleDoc,
	}

	// Arrays long enough to cross the multi-digit index encoding.
	var long []int
	for i := 0; i < 120; i++ {
		long = append(long, i)
	}
	data, err := json.Marshal(map[string]any{"long": long})
	require.NoError(t, err)
	docs = append(docs, string(data))

	for _, doc := range docs {
		t.Run(doc[:min(len(doc), 24)], func(t *testing.T) {
			for _, base := range []string{record.Root, "/some/place/"} {
				es := stored(t, base, doc)
				got := render(t, base, es, Options{})

				if diff := cmp.Diff(decodeJSON(t, doc), decodeJSON(t, got)); diff != "" {
					t.Errorf("round trip at %s mismatch (-want +got):\n%s", base, diff)
				}
			}
		})
	}
}

func TestEntries_Flattening(t *testing.T) {
	es := stored(t, "/base/", `{"list": [10, {"x": 1}], "e": {}}`)

	var keys []string
	for _, e := range es {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{
		"/base/e/",
		"/base/list/[0/",
		"/base/list/[1/x/",
	}, keys)
	assert.Equal(t, record.EmptyObject, es[0].Value)
	assert.Equal(t, record.Number("10"), es[1].Value)
}

func TestEntries_NormalizesMemberNames(t *testing.T) {
	es := stored(t, record.Root, `{"cafe\u0301": 1}`)
	require.Len(t, es, 1)
	assert.Equal(t, "/caf\u00e9/", es[0].Key)
}

func TestEntries_Errors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		check func(error) bool
	}{
		{"empty body", ``, dberr.IsInvalidDocument},
		{"whitespace body", "  \n", dberr.IsInvalidDocument},
		{"trailing value", `{"a": 1} {"b": 2}`, dberr.IsInvalidDocument},
		{"trailing garbage", `[1] x`, dberr.IsInvalidDocument},
		{"truncated", `{"a": [1, 2`, dberr.IsInvalidDocument},
		{"bad member name", `{"a.b": 1}`, dberr.IsInvalidPath},
		{"empty member name", `{"": 1}`, dberr.IsInvalidPath},
		{"nested bad member", `{"ok": {"x$": 1}}`, dberr.IsInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got error
			for _, err := range Entries(record.Root, strings.NewReader(tt.doc)) {
				if err != nil {
					got = err
					break
				}
			}
			require.Error(t, got)
			assert.True(t, tt.check(got), "unexpected error: %v", got)
		})
	}
}

func TestEntries_EarlyBreak(t *testing.T) {
	n := 0
	for _, err := range Entries(record.Root, strings.NewReader(`[1, 2, 3, 4]`)) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestMembers(t *testing.T) {
	body := `{"a": {"x": 1}, "skip": [1, 2, {"deep": true}], "gone": null, "b": "two"}`

	type member struct {
		name    string
		entries []record.Entry
	}
	var got []member
	err := Members("/base/", strings.NewReader(body), func(name string, value iter.Seq2[record.Entry, error]) error {
		if name == "skip" {
			return nil
		}
		m := member{name: name}
		for e, err := range value {
			if err != nil {
				return err
			}
			m.entries = append(m.entries, e)
		}
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].name)
	assert.Equal(t, []record.Entry{{Key: "/base/a/x/", Value: record.Number("1")}}, got[0].entries)
	assert.Equal(t, []record.Entry{{Key: "/base/gone/", Value: record.Null}}, got[1].entries)
	assert.Equal(t, []record.Entry{{Key: "/base/b/", Value: record.String("two")}}, got[2].entries)
}

func TestMembers_PartialConsumption(t *testing.T) {
	var names []string
	err := Members(record.Root, strings.NewReader(`{"a": [1, 2, 3], "b": 4}`), func(name string, value iter.Seq2[record.Entry, error]) error {
		names = append(names, name)
		for range value {
			break
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestMembers_Errors(t *testing.T) {
	noop := func(string, iter.Seq2[record.Entry, error]) error { return nil }

	assert.True(t, dberr.IsInvalidDocument(Members(record.Root, strings.NewReader(`[1]`), noop)))
	assert.True(t, dberr.IsInvalidDocument(Members(record.Root, strings.NewReader(`"x"`), noop)))
	assert.True(t, dberr.IsInvalidDocument(Members(record.Root, strings.NewReader(``), noop)))
	assert.True(t, dberr.IsInvalidDocument(Members(record.Root, strings.NewReader(`{"a": 1} 2`), noop)))
	assert.True(t, dberr.IsInvalidPath(Members(record.Root, strings.NewReader(`{"a#": 1}`), noop)))

	boom := errors.New("boom")
	err := Members(record.Root, strings.NewReader(`{"a": 1}`), func(string, iter.Seq2[record.Entry, error]) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWriter_Golden(t *testing.T) {
	es := stored(t, "/doc/", sampleDoc)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "compact", []byte(render(t, "/doc/", es, Options{})))
	g.Assert(t, "pretty", []byte(render(t, "/doc/", es, Options{Pretty: true})))
	g.Assert(t, "callback", []byte(render(t, "/doc/", es, Options{Callback: "app.cb"})))
}

func TestWriter_PadsArrayGaps(t *testing.T) {
	es := []record.Entry{
		{Key: "/a/" + record.IndexSegment(0) + "/", Value: record.Number("1")},
		{Key: "/a/" + record.IndexSegment(3) + "/x/", Value: record.True},
	}
	assert.Equal(t, `[1,null,null,{"x":true}]`, render(t, "/a/", es, Options{}))
}

func TestWriter_LooseRootArray(t *testing.T) {
	es := []record.Entry{
		{Key: "/a/" + record.IndexSegment(7) + "/", Value: record.Number("7")},
		{Key: "/a/" + record.IndexSegment(2) + "/", Value: record.Number("2")},
	}
	assert.Equal(t, `[7,2]`, render(t, "/a/", es, Options{Loose: true}))

	var buf bytes.Buffer
	err := Render(&buf, "/a/", Slice(es), Options{})
	assert.True(t, dberr.IsCorruptData(err), "strict mode rejects out-of-order elements")
}

func TestWriter_EmptyAndLeaf(t *testing.T) {
	assert.Equal(t, `null`, render(t, "/a/", nil, Options{}))
	assert.Equal(t, `cb(null)`, render(t, "/a/", nil, Options{Callback: "cb"}))
	assert.Equal(t, `"x"`, render(t, "/a/", []record.Entry{{Key: "/a/", Value: record.String("x")}}, Options{Pretty: true}))
}

func TestWriter_CorruptInput(t *testing.T) {
	tests := []struct {
		name string
		es   []record.Entry
	}{
		{
			name: "member inside array",
			es: []record.Entry{
				{Key: "/a/" + record.IndexSegment(0) + "/", Value: record.True},
				{Key: "/a/name/", Value: record.True},
			},
		},
		{
			name: "index inside object",
			es: []record.Entry{
				{Key: "/a/name/", Value: record.True},
				{Key: "/a/" + record.IndexSegment(0) + "/", Value: record.True},
			},
		},
		{
			name: "entry below a leaf",
			es: []record.Entry{
				{Key: "/a/b/", Value: record.True},
				{Key: "/a/b/c/", Value: record.True},
			},
		},
		{
			name: "sealed leaf",
			es: []record.Entry{
				{Key: "/a/b/", Value: record.Sealed("abc")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := Render(&buf, "/a/", Slice(tt.es), Options{})
			assert.True(t, dberr.IsCorruptData(err), "got %v", err)
		})
	}
}

func TestWriter_InvalidCallback(t *testing.T) {
	for _, name := range []string{"alert(1)", "a b", "1abc", "a..b", "x;y"} {
		_, err := NewWriter(&bytes.Buffer{}, record.Root, Options{Callback: name})
		assert.True(t, dberr.IsInvalidDocument(err), "callback %q", name)
	}
	for _, name := range []string{"cb", "app.cb", "$jsonp_1", "_a.b.c"} {
		_, err := NewWriter(&bytes.Buffer{}, record.Root, Options{Callback: name})
		assert.NoError(t, err, "callback %q", name)
	}
}

func TestWriter_FlushesLargeOutput(t *testing.T) {
	var es []record.Entry
	for i := 0; i < 5000; i++ {
		es = append(es, record.Entry{
			Key:   "/" + record.IndexSegment(i) + "/",
			Value: record.String(strings.Repeat("x", 20)),
		})
	}

	var buf bytes.Buffer
	w, err := NewWriter(&buf, record.Root, Options{})
	require.NoError(t, err)
	for _, e := range es {
		require.NoError(t, w.Write(e))
	}
	assert.NotZero(t, buf.Len(), "output is flushed before Close")
	require.NoError(t, w.Close())

	var out []string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Len(t, out, 5000)
}

func TestDocumentAndFromValue(t *testing.T) {
	v := map[string]any{
		"a": []any{json.Number("1"), "two", nil},
		"b": map[string]any{},
	}

	doc, err := Document("/x/", FromValue("/x/", v))
	require.NoError(t, err)
	assert.Equal(t, v, doc)

	doc, err = Document("/x/", Slice(nil))
	require.NoError(t, err)
	assert.Nil(t, doc)
}
