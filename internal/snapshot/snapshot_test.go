package snapshot

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	body := []byte(`{"users":{"u1":{"name":"ann","tags":["a","b"]}}}` + strings.Repeat(" ", 4096))
	created := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	for _, codec := range []Codec{None, Zstd, Snappy, LZ4} {
		t.Run(string(codec), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, Header{Codec: codec, Path: "/users", SchemaVersion: 4, Created: created})
			require.NoError(t, err)
			_, err = w.Write(body)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			h, r, err := NewReader(&buf)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, codec, h.Codec)
			assert.Equal(t, "/users", h.Path)
			assert.Equal(t, 4, h.SchemaVersion)
			assert.True(t, created.Equal(h.Created))

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, body, got)
		})
	}
}

func TestCompresses(t *testing.T) {
	body := bytes.Repeat([]byte(`{"k":"value"},`), 2000)

	for _, codec := range []Codec{Zstd, Snappy, LZ4} {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Header{Codec: codec})
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		assert.Less(t, buf.Len(), len(body)/2, string(codec))
	}
}

func TestEmptyCodecIsNone(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Header{Path: "/"})
	require.NoError(t, err)
	_, err = io.WriteString(w, "null")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.True(t, strings.HasSuffix(buf.String(), "\nnull"))

	h, _, err := NewReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, None, h.Codec)
}

func TestParseCodec(t *testing.T) {
	for _, s := range []string{"none", "zstd", "snappy", "lz4"} {
		c, err := ParseCodec(s)
		require.NoError(t, err)
		assert.Equal(t, Codec(s), c)
	}
	_, err := ParseCodec("gzip")
	assert.Error(t, err)

	_, err = NewWriter(io.Discard, Header{Codec: "brotli"})
	assert.Error(t, err)
}

func TestNewReader_Rejects(t *testing.T) {
	tests := map[string]string{
		"empty":       "",
		"not magic":   `{"a":1}`,
		"no header":   magic,
		"bad header":  magic + "{nope\n",
		"bad codec":   magic + `{"codec":"gzip"}` + "\n",
		"long header": magic + strings.Repeat("x", maxHeader+10) + "\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := NewReader(strings.NewReader(in))
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}
