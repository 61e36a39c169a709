// Package jsondb is the document store: JSON documents addressed by slash
// paths, stored as ordered leaf entries in a Path Index.
//
// All paths are human paths ("/users/42/name"). Writes are serialized and
// atomic; reads see either all or none of a write. After a fatal error
// (corrupt data or a failed migration) the store stops serving and every
// call returns that error.
package jsondb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/jsondb/internal/crypt"
	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/keygen"
	"github.com/roach88/jsondb/internal/metric"
	"github.com/roach88/jsondb/internal/migrate"
	"github.com/roach88/jsondb/internal/record"
	"github.com/roach88/jsondb/internal/store"
)

// WriteResult summarizes a mutation.
type WriteResult = store.WriteResult

// Options configures Open. Backend is required.
type Options struct {
	Backend store.Backend

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the store metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Keys mints push keys. Defaults to keygen.New().
	Keys keygen.KeySource

	// Crypt seals sensitive leaves. Nil stores everything in plaintext.
	Crypt *crypt.Adapter

	// Indexes declares property indexes, "<collection>/#<field>".
	Indexes []string

	// Migrator and SchemaVersion bring the store up to date inside Open.
	// SchemaVersion 0 means Migrator.Latest().
	Migrator      *migrate.Migrator
	SchemaVersion int

	// ManualMigrate leaves migrating to an explicit Migrate call.
	ManualMigrate bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// DB is an open document store.
type DB struct {
	ix       *store.Index
	logger   *slog.Logger
	metrics  *metric.Metrics
	keys     keygen.KeySource
	crypt    *crypt.Adapter
	migrator *migrate.Migrator
	target   int
	now      func() time.Time

	mu    sync.RWMutex
	fatal error

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// Open wraps the backend and runs any pending migrations before returning.
// On error the backend is closed.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Backend == nil {
		return nil, errors.New("jsondb: no backend")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ix, err := store.NewIndex(opts.Backend,
		store.WithLogger(logger),
		store.WithPropertyIndexes(opts.Indexes...),
	)
	if err != nil {
		opts.Backend.Close()
		return nil, err
	}

	db := &DB{
		ix:       ix,
		logger:   logger,
		metrics:  metric.New(opts.Registerer),
		keys:     opts.Keys,
		crypt:    opts.Crypt,
		migrator: opts.Migrator,
		target:   opts.SchemaVersion,
		now:      opts.Now,
		subs:     make(map[int]func(Event)),
	}
	if db.keys == nil {
		db.keys = keygen.New()
	}
	if db.now == nil {
		db.now = time.Now
	}
	if db.migrator != nil && db.target == 0 {
		db.target = db.migrator.Latest()
	}

	if db.migrator != nil && !opts.ManualMigrate {
		if _, err := db.Migrate(ctx, db.target); err != nil {
			ix.Close()
			return nil, err
		}
	}

	v, err := db.SchemaVersion(ctx)
	if err != nil {
		ix.Close()
		return nil, err
	}
	db.metrics.RecordSchemaVersion(v)
	logger.Info("jsondb opened", "schema_version", v, "indexes", len(opts.Indexes), "encryption", opts.Crypt.Cipher() != nil)
	return db, nil
}

// Close releases the backend.
func (db *DB) Close() error {
	return db.ix.Close()
}

// Err returns the fatal error that stopped the store, or nil.
func (db *DB) Err() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.fatal
}

// fail records err if it is fatal. It returns err unchanged.
func (db *DB) fail(err error) error {
	if err == nil || !dberr.IsFatal(err) {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.fatal == nil {
		db.fatal = err
		db.metrics.RecordFailed(true)
		db.logger.Error("store failed", "error", err)
	}
	return err
}

// observe records the metrics of one operation.
func (db *DB) observe(op string, start time.Time, err error) {
	result := metric.ResultOK
	switch {
	case dberr.IsNotFound(err):
		result = metric.ResultNotFound
	case err != nil:
		result = metric.ResultError
	}
	db.metrics.RecordOperation(op, result, time.Since(start))
}

// read runs fn in a read transaction.
func (db *DB) read(ctx context.Context, op string, fn func(*store.Txn) error) (err error) {
	start := time.Now()
	defer func() { db.observe(op, start, err) }()

	if err := db.Err(); err != nil {
		return err
	}
	return db.fail(db.ix.Read(ctx, fn))
}

// write runs fn in a write transaction and publishes its events after
// commit.
func (db *DB) write(ctx context.Context, op string, fn func(*Tx) error) (err error) {
	start := time.Now()
	defer func() { db.observe(op, start, err) }()

	if err := db.Err(); err != nil {
		return err
	}

	var tx *Tx
	err = db.ix.Write(ctx, func(txn *store.Txn) error {
		tx = &Tx{db: db, txn: txn}
		return fn(tx)
	})
	if err != nil {
		return db.fail(err)
	}

	db.metrics.RecordWrite(tx.result.Written, tx.result.Deleted, len(tx.result.Conflicts))
	for _, ev := range tx.events {
		db.publish(ev)
	}
	return nil
}

// key parses a human path.
func key(path string) (string, error) {
	return record.KeyOf(path)
}

// CreateKey returns a new push key.
func (db *DB) CreateKey() string {
	return db.keys.CreateKey()
}

// SchemaVersion returns the stored schema version, 0 when unset.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.read(ctx, "schema_version", func(txn *store.Txn) error {
		var err error
		v, err = migrate.ReadVersion(ctx, txn)
		return err
	})
	return v, err
}

// Migrate runs the configured migrator up to target. A target of 0 means the
// version the store was opened for.
func (db *DB) Migrate(ctx context.Context, target int) (migrate.Result, error) {
	if db.migrator == nil {
		return migrate.Result{}, errors.New("jsondb: no migrator configured")
	}
	if target == 0 {
		target = db.target
	}
	if err := db.Err(); err != nil {
		return migrate.Result{}, err
	}

	start := time.Now()
	res, err := db.migrator.Migrate(ctx, db.ix, target)
	db.observe("migrate", start, err)
	if res.To != res.From {
		db.metrics.RecordSchemaVersion(res.To)
	}
	if err != nil {
		return res, db.fail(fmt.Errorf("migrate to %d: %w", target, err))
	}
	return res, nil
}

// FindByProperty returns the ids of the children of collection whose field
// equals value (a JSON scalar).
func (db *DB) FindByProperty(ctx context.Context, collection, field string, value any) ([]string, error) {
	coll, err := key(collection)
	if err != nil {
		return nil, err
	}
	if err := record.ValidateSegment(field); err != nil {
		return nil, err
	}
	leaf, err := record.LeafOf(value)
	if err != nil {
		return nil, dberr.InvalidDocument(collection, "property value must be a JSON scalar", err)
	}

	var ids []string
	err = db.read(ctx, "find", func(txn *store.Txn) error {
		var err error
		ids, err = txn.FindByProperty(ctx, coll, field, leaf)
		return err
	})
	return ids, err
}
