// Package projector converts between nested JSON documents and the flat,
// key-ordered entry stream stored by the Path Index.
//
// Both directions stream. Decoding walks JSON tokens and yields one entry per
// leaf; encoding (Writer) consumes entries in key order and opens or closes
// containers as the common key prefix changes. Memory use is bounded by
// document depth, not size.
package projector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/record"
)

// errStop unwinds the decoder when the consumer stops iterating.
var errStop = errors.New("consumer stopped")

type decoder struct {
	dec  *json.Decoder
	emit func(record.Entry) bool
}

func newDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// Entries decodes one JSON document from r into entries rooted at base, in
// document order. Arrays become index segments, empty containers become
// marker leaves, and object member names are NFC-normalized and validated.
//
// An empty body or data after the document is InvalidDocument.
func Entries(base string, r io.Reader) iter.Seq2[record.Entry, error] {
	return func(yield func(record.Entry, error) bool) {
		d := &decoder{
			dec: newDecoder(r),
			emit: func(e record.Entry) bool {
				return yield(e, nil)
			},
		}

		tok, err := d.dec.Token()
		if err == io.EOF {
			yield(record.Entry{}, dberr.InvalidDocument(record.HumanPath(base), "empty document", nil))
			return
		}
		if err != nil {
			yield(record.Entry{}, malformed(base, err))
			return
		}

		if err := d.value(base, tok); err != nil {
			if !errors.Is(err, errStop) {
				yield(record.Entry{}, err)
			}
			return
		}

		if err := d.end(base); err != nil {
			yield(record.Entry{}, err)
		}
	}
}

// FromValue converts a generic JSON value (as produced by encoding/json or
// Document) into entries rooted at base.
func FromValue(base string, v any) iter.Seq2[record.Entry, error] {
	data, err := json.Marshal(v)
	if err != nil {
		return func(yield func(record.Entry, error) bool) {
			yield(record.Entry{}, dberr.InvalidDocument(record.HumanPath(base), "value is not JSON", err))
		}
	}
	return Entries(base, bytes.NewReader(data))
}

// Members streams the top-level members of an object body. fn receives each
// member's validated name and its entries rooted at base+name; the entries
// can be iterated at most once and are drained if fn does not consume them.
// A body that is not an object is InvalidDocument.
func Members(base string, r io.Reader, fn func(name string, value iter.Seq2[record.Entry, error]) error) error {
	dec := newDecoder(r)
	human := record.HumanPath(base)

	tok, err := dec.Token()
	if err == io.EOF {
		return dberr.InvalidDocument(human, "empty document", nil)
	}
	if err != nil {
		return malformed(base, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return dberr.InvalidDocument(human, "update body must be a JSON object", nil)
	}

	for dec.More() {
		name, key, err := memberKey(dec, base)
		if err != nil {
			return err
		}
		tok, err := dec.Token()
		if err != nil {
			return malformed(key, err)
		}

		var decodeErr error
		consumed := false
		value := func(yield func(record.Entry, error) bool) {
			if consumed {
				return
			}
			consumed = true
			stopped := false
			d := &decoder{dec: dec, emit: func(e record.Entry) bool {
				if !stopped && !yield(e, nil) {
					stopped = true
				}
				return true
			}}
			if err := d.value(key, tok); err != nil {
				decodeErr = err
				if !stopped {
					yield(record.Entry{}, err)
				}
			}
		}

		if err := fn(name, value); err != nil {
			return err
		}
		if !consumed {
			consumed = true
			d := &decoder{dec: dec, emit: func(record.Entry) bool { return true }}
			decodeErr = d.value(key, tok)
		}
		if decodeErr != nil {
			return decodeErr
		}
	}

	if _, err := dec.Token(); err != nil {
		return malformed(base, err)
	}
	d := &decoder{dec: dec}
	return d.end(base)
}

// end checks that nothing follows the document.
func (d *decoder) end(base string) error {
	tok, err := d.dec.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return malformed(base, err)
	}
	return dberr.InvalidDocument(record.HumanPath(base), fmt.Sprintf("unexpected %v after document", tok), nil)
}

func (d *decoder) value(key string, tok json.Token) error {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return d.object(key)
		case '[':
			return d.array(key)
		}
		return dberr.InvalidDocument(record.HumanPath(key), fmt.Sprintf("unexpected %q", rune(t)), nil)
	case string:
		return d.leaf(key, record.String(t))
	case json.Number:
		return d.leaf(key, record.Number(t.String()))
	case bool:
		return d.leaf(key, record.Bool(t))
	case nil:
		return d.leaf(key, record.Null)
	}
	return dberr.InvalidDocument(record.HumanPath(key), fmt.Sprintf("unexpected token %T", tok), nil)
}

func (d *decoder) leaf(key string, l record.Leaf) error {
	if !d.emit(record.Entry{Key: key, Value: l}) {
		return errStop
	}
	return nil
}

func (d *decoder) object(key string) error {
	n := 0
	for d.dec.More() {
		_, child, err := memberKey(d.dec, key)
		if err != nil {
			return err
		}
		tok, err := d.dec.Token()
		if err != nil {
			return malformed(child, err)
		}
		if err := d.value(child, tok); err != nil {
			return err
		}
		n++
	}
	if _, err := d.dec.Token(); err != nil {
		return malformed(key, err)
	}
	if n == 0 {
		return d.leaf(key, record.EmptyObject)
	}
	return nil
}

func (d *decoder) array(key string) error {
	i := 0
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return malformed(key, err)
		}
		if err := d.value(key+record.IndexSegment(i)+"/", tok); err != nil {
			return err
		}
		i++
	}
	if _, err := d.dec.Token(); err != nil {
		return malformed(key, err)
	}
	if i == 0 {
		return d.leaf(key, record.EmptyArray)
	}
	return nil
}

// memberKey reads an object member name and returns it with the child key.
// Names are stored verbatim after normalization, so numeric names are not
// turned into index segments.
func memberKey(dec *json.Decoder, parent string) (string, string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", "", malformed(parent, err)
	}
	name, ok := tok.(string)
	if !ok {
		return "", "", dberr.InvalidDocument(record.HumanPath(parent), fmt.Sprintf("unexpected %v, want member name", tok), nil)
	}
	name = norm.NFC.String(name)
	if err := record.ValidateSegment(name); err != nil {
		return "", "", dberr.InvalidPath(strings.TrimSuffix(record.HumanPath(parent), "/")+"/"+name, "invalid member name: %v", err)
	}
	return name, parent + name + "/", nil
}

func malformed(key string, err error) error {
	return dberr.InvalidDocument(record.HumanPath(key), "malformed JSON", err)
}
