package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/record"
)

// PropertyIndex marks the entries at <Collection><id>/<Field>/ so they can be
// looked up by value.
type PropertyIndex struct {
	// Name is the configured form, e.g. "/users/#email".
	Name string

	// Collection is the DB key of the collection, e.g. "/users/".
	Collection string

	// Field is the stored segment of the indexed member.
	Field string
}

// ParsePropertyIndex parses "<collection path>/#<field>".
func ParsePropertyIndex(spec string) (PropertyIndex, error) {
	i := strings.LastIndex(spec, "/#")
	if i < 0 {
		return PropertyIndex{}, dberr.InvalidPath(spec, "property index must have the form <collection>/#<field>")
	}
	collection, err := record.KeyOf(spec[:i])
	if err != nil {
		return PropertyIndex{}, err
	}
	field := spec[i+2:]
	if err := record.ValidateSegment(field); err != nil {
		return PropertyIndex{}, dberr.InvalidPath(spec, "invalid field %q: %v", field, err)
	}
	return PropertyIndex{
		Name:       strings.TrimSuffix(record.HumanPath(collection), "/") + "/#" + field,
		Collection: collection,
		Field:      record.EncodeSegment(field),
	}, nil
}

// matches reports whether key is <Collection><id>/<Field>/.
func (p PropertyIndex) matches(key string) bool {
	if !strings.HasPrefix(key, p.Collection) {
		return false
	}
	rel := record.Relative(p.Collection, key)
	return len(rel) == 2 && rel[1] == p.Field
}

// Index is the Path Index: subtree operations over a Backend guarded by a
// store-wide read/write lock.
type Index struct {
	mu      sync.RWMutex
	backend Backend
	logger  *slog.Logger
	indexes []PropertyIndex
	specs   []string
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for conflict warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// WithPropertyIndexes declares property indexes ("/users/#email").
func WithPropertyIndexes(specs ...string) Option {
	return func(ix *Index) {
		ix.specs = append(ix.specs, specs...)
	}
}

// NewIndex wraps a backend. The Index takes ownership of b; Close closes it.
func NewIndex(b Backend, opts ...Option) (*Index, error) {
	ix := &Index{
		backend: b,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	for _, spec := range ix.specs {
		p, err := ParsePropertyIndex(spec)
		if err != nil {
			return nil, fmt.Errorf("property index %q: %w", spec, err)
		}
		ix.indexes = append(ix.indexes, p)
	}
	return ix, nil
}

// Backend returns the underlying backend.
func (ix *Index) Backend() Backend {
	return ix.backend
}

// PropertyIndexes returns the declared property indexes.
func (ix *Index) PropertyIndexes() []PropertyIndex {
	return ix.indexes
}

// Close closes the backend.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.backend.Close()
}

// Read runs fn under the shared lock in a read-only transaction. Readers never
// observe a partially applied Write.
func (ix *Index) Read(ctx context.Context, fn func(*Txn) error) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.backend.View(ctx, func(tx Tx) error {
		return fn(&Txn{index: ix, tx: tx})
	})
}

// Write runs fn under the exclusive lock in one backend transaction. If fn
// returns an error nothing it wrote is kept.
func (ix *Index) Write(ctx context.Context, fn func(*Txn) error) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.backend.Update(ctx, func(tx Tx) error {
		return fn(&Txn{index: ix, tx: tx, writable: true})
	})
}

// indexFor returns the property index name for key, or "".
func (ix *Index) indexFor(key string) string {
	for _, p := range ix.indexes {
		if p.matches(key) {
			return p.Name
		}
	}
	return ""
}

// Txn is a Path Index transaction, valid only inside the Read or Write
// callback that created it.
type Txn struct {
	index    *Index
	tx       Tx
	writable bool
}

// Logger returns the index logger.
func (t *Txn) Logger() *slog.Logger {
	return t.index.logger
}

func (t *Txn) checkWritable(op string) error {
	if !t.writable {
		return fmt.Errorf("%s: read-only transaction", op)
	}
	return nil
}

// WriteResult summarizes a mutation.
type WriteResult struct {
	// Written is the number of entries inserted or overwritten.
	Written int

	// Deleted is the number of entries removed, including conflict
	// resolutions.
	Deleted int

	// Conflicts lists structural conflicts resolved by last write wins.
	Conflicts []*dberr.Error
}

// Merge adds other into r.
func (r *WriteResult) Merge(other WriteResult) {
	r.Written += other.Written
	r.Deleted += other.Deleted
	r.Conflicts = append(r.Conflicts, other.Conflicts...)
}

// SubtreeOptions restricts GetSubtree. Child bounds are stored segments
// (record.EncodeSegment form) compared in key order.
type SubtreeOptions struct {
	// Depth > 0 collapses content deeper than Depth levels below the base
	// into a single true leaf.
	Depth int

	StartAt    string
	StartAfter string
	EndAt      string
	EndBefore  string

	// Reverse yields children in descending order. Each child's own entries
	// stay ascending.
	Reverse bool

	// Limit caps the number of children. <= 0 means no limit.
	Limit int
}

// ChildScoped reports whether the options select individual children rather
// than the whole prefix range.
func (o SubtreeOptions) ChildScoped() bool {
	return o.StartAt != "" || o.StartAfter != "" || o.EndAt != "" ||
		o.EndBefore != "" || o.Reverse || o.Limit > 0
}
