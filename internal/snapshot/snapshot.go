// Package snapshot reads and writes compressed document exports.
//
// A snapshot is a magic line, a one-line JSON header and the document body
// compressed with the codec named in the header.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const magic = "JSONDB-SNAPSHOT 1\n"

// maxHeader bounds the header line.
const maxHeader = 64 * 1024

// Codec names a body compression.
type Codec string

const (
	None   Codec = "none"
	Zstd   Codec = "zstd"
	Snappy Codec = "snappy"
	LZ4    Codec = "lz4"
)

// ErrFormat is returned for input that is not a snapshot.
var ErrFormat = errors.New("not a jsondb snapshot")

// ParseCodec validates a codec name. "" means None.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(s); c {
	case None, Zstd, Snappy, LZ4:
		return c, nil
	case "":
		return None, nil
	}
	return "", fmt.Errorf("unknown snapshot codec %q", s)
}

// Header describes a snapshot.
type Header struct {
	Codec         Codec     `json:"codec"`
	Path          string    `json:"path"`
	SchemaVersion int       `json:"schema_version"`
	Created       time.Time `json:"created"`
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewWriter writes the snapshot preamble to w and returns a writer for the
// body. Closing it flushes the compressor; w itself is not closed.
func NewWriter(w io.Writer, h Header) (io.WriteCloser, error) {
	if h.Codec == "" {
		h.Codec = None
	}
	if _, err := ParseCodec(string(h.Codec)); err != nil {
		return nil, err
	}

	line, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot header: %w", err)
	}
	if _, err := io.WriteString(w, magic); err != nil {
		return nil, fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write snapshot header: %w", err)
	}

	switch h.Codec {
	case Zstd:
		return zstd.NewWriter(w)
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case LZ4:
		return lz4.NewWriter(w), nil
	}
	return nopCloser{w}, nil
}

// NewReader reads the preamble from r and returns the header and a reader
// for the decompressed body.
func NewReader(r io.Reader) (Header, io.ReadCloser, error) {
	br := bufio.NewReader(r)

	m := make([]byte, len(magic))
	if _, err := io.ReadFull(br, m); err != nil || string(m) != magic {
		return Header{}, nil, ErrFormat
	}

	line, err := readLine(br)
	if err != nil {
		return Header{}, nil, err
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return Header{}, nil, fmt.Errorf("%w: bad header: %v", ErrFormat, err)
	}
	if _, err := ParseCodec(string(h.Codec)); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	switch h.Codec {
	case Zstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			return Header{}, nil, fmt.Errorf("open zstd body: %w", err)
		}
		return h, dec.IOReadCloser(), nil
	case Snappy:
		return h, io.NopCloser(snappy.NewReader(br)), nil
	case LZ4:
		return h, io.NopCloser(lz4.NewReader(br)), nil
	}
	return h, io.NopCloser(br), nil
}

func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrFormat)
		}
		line = append(line, chunk...)
		if len(line) > maxHeader {
			return nil, fmt.Errorf("%w: header too long", ErrFormat)
		}
		if !isPrefix {
			return line, nil
		}
	}
}
