package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial index on (idx, value) for property lookups
const currentSchemaVersion = 1

// scanPageSize bounds how many rows a Scan reads per query. Rows are read
// into memory and the cursor is closed before callbacks run.
const scanPageSize = 256

// SQLite is the default Backend, storing the Path Index in a single table.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*SQLite, error) {
	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// View runs fn in a transaction that is always rolled back.
func (s *SQLite) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqlTx{tx: tx})
}

// Update runs fn in a transaction, committing on success.
func (s *SQLite) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}

	if err := fn(&sqlTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental table migrations based on user_version.
// These track the physical table layout only; document schema versions are
// handled by internal/migrate.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the property lookup index. Only indexed entries carry a
// non-NULL idx, so the index stays small.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_jsondb_idx_value
		ON jsondb(idx, value) WHERE idx IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// sqlTx implements Tx and IndexLookup over a database/sql transaction.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Get(ctx context.Context, key string) (record.Leaf, bool, error) {
	var raw []byte
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM jsondb WHERE path = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Leaf{}, false, nil
	}
	if err != nil {
		return record.Leaf{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	leaf, err := record.DecodeLeaf(raw)
	if err != nil {
		return record.Leaf{}, false, dberr.CorruptData(record.HumanPath(key), "undecodable leaf", err)
	}
	return leaf, true, nil
}

func (t *sqlTx) Scan(ctx context.Context, r Range, fn func(record.Entry) error) error {
	q := scanQuery{
		lower:   r.Start,
		upper:   r.End,
		reverse: r.Reverse,
	}
	remaining := r.Limit

	for {
		q.limit = scanPageSize
		if r.Limit > 0 && remaining < scanPageSize {
			q.limit = remaining
		}

		page, err := t.scanPage(ctx, q)
		if err != nil {
			return err
		}

		for _, e := range page {
			if err := fn(e); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}

		if r.Limit > 0 {
			remaining -= len(page)
			if remaining <= 0 {
				return nil
			}
		}
		if len(page) < q.limit {
			return nil
		}

		// Keyset pagination: continue strictly past the last key seen.
		last := page[len(page)-1].Key
		if r.Reverse {
			q.upper = last
		} else {
			q.lower = last
			q.lowerExclusive = true
		}
	}
}

func (t *sqlTx) scanPage(ctx context.Context, q scanQuery) ([]record.Entry, error) {
	query, args := q.build()
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	page := make([]record.Entry, 0, q.limit)
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		leaf, err := record.DecodeLeaf(raw)
		if err != nil {
			return nil, dberr.CorruptData(record.HumanPath(path), "undecodable leaf", err)
		}
		page = append(page, record.Entry{Key: path, Value: leaf})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return page, nil
}

func (t *sqlTx) Put(ctx context.Context, e record.Entry) error {
	idx := sql.NullString{String: e.Idx, Valid: e.Idx != ""}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO jsondb (path, value, idx) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value, idx = excluded.idx
	`, e.Key, e.Value.Encode(), idx)
	if err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}
	return nil
}

func (t *sqlTx) DeleteRange(ctx context.Context, start, end string) (int, error) {
	query, args := deleteQuery(start, end)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete range [%s, %s): %w", start, end, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete range: rows affected: %w", err)
	}
	return int(n), nil
}

func (t *sqlTx) LookupIndex(ctx context.Context, idx string, value record.Leaf) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT path FROM jsondb
		WHERE idx = ? AND value = ?
		ORDER BY path ASC
	`, idx, value.Encode())
	if err != nil {
		return nil, fmt.Errorf("lookup index %s: %w", idx, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("lookup index %s: %w", idx, err)
		}
		keys = append(keys, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup index %s: %w", idx, err)
	}
	return keys, nil
}
