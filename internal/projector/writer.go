package projector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"regexp"
	"strings"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/record"
)

// flushSize is the buffered output size that triggers a write to the
// underlying writer.
const flushSize = 32 * 1024

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// Options selects the output mode.
type Options struct {
	// Pretty indents nested containers by two spaces.
	Pretty bool

	// Callback wraps the document as Callback(<document>).
	Callback string

	// Loose writes the elements of a root array in the order given, without
	// padding gaps with null. Used for reversed or windowed reads.
	Loose bool
}

// ValidCallback reports whether name can wrap a document.
func ValidCallback(name string) bool {
	return callbackPattern.MatchString(name)
}

type frame struct {
	seg   string
	array bool
	next  int
	count int
}

// Writer renders key-ordered entries below a base key as one JSON document.
type Writer struct {
	w     io.Writer
	base  string
	opts  Options
	buf   []byte
	stack []frame

	last    string
	started bool
	leaf    bool
	closed  bool
}

// NewWriter returns a Writer for entries at or below base.
func NewWriter(w io.Writer, base string, opts Options) (*Writer, error) {
	if opts.Callback != "" && !ValidCallback(opts.Callback) {
		return nil, dberr.InvalidDocument(record.HumanPath(base), fmt.Sprintf("invalid callback name %q", opts.Callback), nil)
	}
	return &Writer{
		w:    w,
		base: base,
		opts: opts,
		buf:  make([]byte, 0, 4096),
	}, nil
}

func (w *Writer) corrupt(key, format string, args ...any) error {
	return dberr.CorruptData(record.HumanPath(key), fmt.Sprintf(format, args...), nil)
}

func (w *Writer) start() {
	if !w.started {
		w.started = true
		if w.opts.Callback != "" {
			w.buf = append(w.buf, w.opts.Callback...)
			w.buf = append(w.buf, '(')
		}
	}
}

// Write adds one entry. Entries must arrive in key order, except that with
// Loose set the children of a root array may arrive in any order.
func (w *Writer) Write(e record.Entry) error {
	if w.closed {
		return fmt.Errorf("write after close")
	}
	if !strings.HasPrefix(e.Key, w.base) {
		return w.corrupt(e.Key, "entry outside %s", record.HumanPath(w.base))
	}
	if w.leaf || (w.last != "" && strings.HasPrefix(e.Key, w.last)) {
		return w.corrupt(e.Key, "entry at or below another leaf")
	}
	w.last = e.Key

	rel := record.Relative(w.base, e.Key)
	if len(rel) == 0 {
		if len(w.stack) > 0 {
			return w.corrupt(e.Key, "leaf stored at a container")
		}
		w.start()
		w.leaf = true
		if err := w.value(e); err != nil {
			return err
		}
		return w.maybeFlush()
	}

	if len(w.stack) == 0 {
		w.start()
		w.open(record.IsIndexSegment(rel[0]), "")
	}

	// Keep the containers shared with the previous entry.
	shared := 0
	for shared < len(rel)-1 && shared+1 < len(w.stack) && w.stack[shared+1].seg == rel[shared] {
		shared++
	}
	for len(w.stack) > shared+1 {
		w.close()
	}

	for i := shared; i < len(rel); i++ {
		if err := w.member(e.Key, rel[i]); err != nil {
			return err
		}
		if i < len(rel)-1 {
			w.open(record.IsIndexSegment(rel[i+1]), rel[i])
			continue
		}
		if err := w.value(e); err != nil {
			return err
		}
	}
	return w.maybeFlush()
}

// member writes the separator and, for objects, the member name of the next
// child of the innermost container.
func (w *Writer) member(key, seg string) error {
	top := &w.stack[len(w.stack)-1]

	if top.array {
		idx, err := record.ParseIndex(seg)
		if err != nil {
			return w.corrupt(key, "array element %q is not an index", seg)
		}
		if !(w.opts.Loose && len(w.stack) == 1) {
			if idx < top.next {
				return w.corrupt(key, "array element %d out of order", idx)
			}
			for top.next < idx {
				w.separator(top)
				w.buf = append(w.buf, "null"...)
				top.next++
			}
			top.next = idx + 1
		}
		w.separator(top)
		return nil
	}

	if record.IsIndexSegment(seg) {
		return w.corrupt(key, "index %q inside an object", seg)
	}
	w.separator(top)
	w.buf = record.AppendQuoted(w.buf, seg)
	if w.opts.Pretty {
		w.buf = append(w.buf, ':', ' ')
	} else {
		w.buf = append(w.buf, ':')
	}
	return nil
}

func (w *Writer) separator(top *frame) {
	if top.count > 0 {
		w.buf = append(w.buf, ',')
	}
	top.count++
	w.newline(len(w.stack))
}

func (w *Writer) newline(depth int) {
	if !w.opts.Pretty {
		return
	}
	w.buf = append(w.buf, '\n')
	for i := 0; i < depth; i++ {
		w.buf = append(w.buf, ' ', ' ')
	}
}

func (w *Writer) open(array bool, seg string) {
	if array {
		w.buf = append(w.buf, '[')
	} else {
		w.buf = append(w.buf, '{')
	}
	w.stack = append(w.stack, frame{seg: seg, array: array})
}

func (w *Writer) close() {
	top := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	if top.count > 0 {
		w.newline(len(w.stack))
	}
	if top.array {
		w.buf = append(w.buf, ']')
	} else {
		w.buf = append(w.buf, '}')
	}
}

func (w *Writer) value(e record.Entry) error {
	out, err := e.Value.AppendJSON(w.buf)
	if err != nil {
		return w.corrupt(e.Key, "%v", err)
	}
	w.buf = out
	return nil
}

func (w *Writer) maybeFlush() error {
	if len(w.buf) < flushSize {
		return nil
	}
	return w.flush()
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.w.Write(w.buf)
	w.buf = w.buf[:0]
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// Close finishes the document and flushes it. A Writer that received no
// entries writes null.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if !w.started {
		w.start()
		w.buf = append(w.buf, "null"...)
	}
	for len(w.stack) > 0 {
		w.close()
	}
	if w.opts.Callback != "" {
		w.buf = append(w.buf, ')')
	}
	return w.flush()
}

// Render writes entries below base to w and closes the document.
func Render(w io.Writer, base string, entries iter.Seq2[record.Entry, error], opts Options) error {
	pw, err := NewWriter(w, base, opts)
	if err != nil {
		return err
	}
	for e, err := range entries {
		if err != nil {
			return err
		}
		if err := pw.Write(e); err != nil {
			return err
		}
	}
	return pw.Close()
}

// Document materializes entries below base as a generic JSON value. Numbers
// are json.Number. No entries yields nil.
func Document(base string, entries iter.Seq2[record.Entry, error]) (any, error) {
	var buf bytes.Buffer
	if err := Render(&buf, base, entries, Options{}); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, dberr.CorruptData(record.HumanPath(base), "rendered document does not decode", err)
	}
	return v, nil
}

// Slice adapts a slice of entries to the iterator form.
func Slice(entries []record.Entry) iter.Seq2[record.Entry, error] {
	return func(yield func(record.Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}
