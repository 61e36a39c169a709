// Package migrate upgrades stored documents between schema versions.
//
// The current version is stored in the tree itself at VersionKey. Each
// registered Transform runs in its own Index.Write together with the update
// of the version marker, so a store is always at exactly one recorded
// version.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/roach88/jsondb/internal/crypt"
	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/keygen"
	"github.com/roach88/jsondb/internal/record"
	"github.com/roach88/jsondb/internal/store"
)

// VersionKey is the DB key of the schema version marker.
const VersionKey = "/schema-version/"

// Transform rewrites stored content for one version step.
type Transform func(ctx context.Context, s *Step) error

type registered struct {
	name string
	fn   Transform
}

// Migrator holds the registered transforms.
type Migrator struct {
	steps  map[int]registered
	logger *slog.Logger
	crypt  *crypt.Adapter
	runIDs keygen.KeySource
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = logger
	}
}

// WithAdapter gives transforms access to the encryption adapter, used when
// they write JSON and by EncryptField.
func WithAdapter(a *crypt.Adapter) Option {
	return func(m *Migrator) {
		m.crypt = a
	}
}

// WithRunIDs sets the source of run IDs. Defaults to UUIDv7.
func WithRunIDs(ids keygen.KeySource) Option {
	return func(m *Migrator) {
		m.runIDs = ids
	}
}

// New returns an empty Migrator.
func New(opts ...Option) *Migrator {
	m := &Migrator{
		steps:  make(map[int]registered),
		logger: slog.Default(),
		runIDs: keygen.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds the transform that upgrades a store to version. It panics on
// a non-positive or duplicate version.
func (m *Migrator) Register(version int, name string, fn Transform) *Migrator {
	if version <= 0 {
		panic(fmt.Sprintf("migrate: invalid version %d", version))
	}
	if fn == nil {
		panic(fmt.Sprintf("migrate: nil transform for version %d", version))
	}
	if prev, ok := m.steps[version]; ok {
		panic(fmt.Sprintf("migrate: version %d registered twice (%s, %s)", version, prev.name, name))
	}
	m.steps[version] = registered{name: name, fn: fn}
	return m
}

// Latest returns the highest registered version, or 0.
func (m *Migrator) Latest() int {
	latest := 0
	for v := range m.steps {
		latest = max(latest, v)
	}
	return latest
}

// Versions returns the registered versions in ascending order.
func (m *Migrator) Versions() []int {
	out := make([]int, 0, len(m.steps))
	for v := range m.steps {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Result reports a migration run.
type Result struct {
	RunID   string
	From    int
	To      int
	Applied []int
}

// Migrate brings the store at ix to target. Every version in (current,
// target] must be registered or nothing is applied. A target at or below the
// current version is a no-op.
func (m *Migrator) Migrate(ctx context.Context, ix *store.Index, target int) (Result, error) {
	runID := m.runIDs.CreateKey()
	logger := m.logger.With("run_id", runID)

	var current int
	err := ix.Read(ctx, func(txn *store.Txn) error {
		v, err := ReadVersion(ctx, txn)
		current = v
		return err
	})
	if err != nil {
		return Result{RunID: runID}, err
	}

	res := Result{RunID: runID, From: current, To: current}
	if target <= current {
		logger.Debug("schema up to date", "version", current, "target", target)
		return res, nil
	}

	for v := current + 1; v <= target; v++ {
		if _, ok := m.steps[v]; !ok {
			logger.Error("migration gap", "version", v, "current", current, "target", target)
			return res, dberr.MigrationGap(v)
		}
	}

	logger.Info("migrating schema", "from", current, "to", target)
	for v := current + 1; v <= target; v++ {
		step := m.steps[v]
		err := ix.Write(ctx, func(txn *store.Txn) error {
			s := &Step{
				Txn:     txn,
				Version: v,
				Name:    step.name,
				RunID:   runID,
				Logger:  logger.With("version", v, "step", step.name),
				Crypt:   m.crypt,
			}
			if err := step.fn(ctx, s); err != nil {
				if dberr.IsFatal(err) {
					return err
				}
				return dberr.MigrationTransformFailed(v, step.name, err)
			}
			return WriteVersion(ctx, txn, v)
		})
		if err != nil {
			logger.Error("migration failed", "version", v, "step", step.name, "error", err)
			return res, err
		}
		res.To = v
		res.Applied = append(res.Applied, v)
		logger.Info("migration applied", "version", v, "step", step.name)
	}
	return res, nil
}

// ReadVersion returns the stored schema version, 0 when unset.
func ReadVersion(ctx context.Context, txn *store.Txn) (int, error) {
	leaf, ok, err := txn.GetLeaf(ctx, VersionKey)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !ok {
		return 0, nil
	}
	if leaf.Kind != record.KindNumber {
		return 0, dberr.CorruptData(record.HumanPath(VersionKey), fmt.Sprintf("schema version is a %s", leaf.Kind), nil)
	}
	v, err := strconv.Atoi(leaf.Text)
	if err != nil {
		return 0, dberr.CorruptData(record.HumanPath(VersionKey), "schema version is not an integer", err)
	}
	return v, nil
}

// WriteVersion stores the schema version marker.
func WriteVersion(ctx context.Context, txn *store.Txn, version int) error {
	if _, err := txn.PutLeaf(ctx, VersionKey, record.Number(strconv.Itoa(version))); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}
