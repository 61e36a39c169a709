package jsondb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/jsondb/internal/crypt"
	"github.com/roach88/jsondb/internal/dberr"
	"github.com/roach88/jsondb/internal/migrate"
	"github.com/roach88/jsondb/internal/projector"
	"github.com/roach88/jsondb/internal/record"
	"github.com/roach88/jsondb/internal/snapshot"
	"github.com/roach88/jsondb/internal/store"
)

// Export writes the subtree at path to w as a snapshot. Sealed leaves are
// exported as ciphertext, never decrypted.
func (db *DB) Export(ctx context.Context, path string, w io.Writer, codec snapshot.Codec) (snapshot.Header, error) {
	k, err := key(path)
	if err != nil {
		return snapshot.Header{}, err
	}

	var (
		entries []record.Entry
		version int
	)
	err = db.read(ctx, "export", func(txn *store.Txn) error {
		all, err := txn.Collect(ctx, k, store.SubtreeOptions{})
		if err != nil {
			return err
		}
		// The marker travels in the header, not the body.
		entries = slices.DeleteFunc(all, func(e record.Entry) bool {
			return strings.HasPrefix(e.Key, migrate.VersionKey)
		})
		if len(entries) == 0 {
			return dberr.NotFound(record.HumanPath(k))
		}
		for i := range entries {
			entries[i] = crypt.Armor(entries[i])
		}
		version, err = migrate.ReadVersion(ctx, txn)
		return err
	})
	if err != nil {
		return snapshot.Header{}, err
	}

	h := snapshot.Header{
		Codec:         codec,
		Path:          record.HumanPath(k),
		SchemaVersion: version,
		Created:       db.now().UTC(),
	}
	sw, err := snapshot.NewWriter(w, h)
	if err != nil {
		return h, err
	}
	if err := projector.Render(sw, k, projector.Slice(entries), projector.Options{}); err != nil {
		sw.Close()
		return h, err
	}
	if err := sw.Close(); err != nil {
		return h, fmt.Errorf("finish snapshot: %w", err)
	}
	db.logger.Info("exported snapshot", "path", h.Path, "codec", h.Codec, "entries", len(entries))
	return h, nil
}

// Import replaces the subtree named in the snapshot header with the snapshot
// body, then brings the store up to the configured schema version. A root
// snapshot also restores the schema version recorded in its header.
func (db *DB) Import(ctx context.Context, r io.Reader) (snapshot.Header, WriteResult, error) {
	h, body, err := snapshot.NewReader(r)
	if err != nil {
		return h, WriteResult{}, err
	}
	defer body.Close()

	var res WriteResult
	err = db.write(ctx, "import", func(tx *Tx) error {
		var err error
		if res, err = tx.Set(ctx, h.Path, body); err != nil {
			return err
		}
		if k, _ := key(h.Path); k != record.Root || h.SchemaVersion == 0 {
			return nil
		}
		// A root snapshot brings its data at the version it was taken.
		return migrate.WriteVersion(ctx, tx.txn, h.SchemaVersion)
	})
	if err != nil {
		return h, res, err
	}
	db.logger.Info("imported snapshot", "path", h.Path, "codec", h.Codec, "written", res.Written)

	if db.migrator != nil {
		if _, err := db.Migrate(ctx, db.target); err != nil {
			return h, res, err
		}
	}
	return h, res, nil
}

// Bootstrap loads doc at path if nothing is stored there yet, replacing
// @NAME@ and @ENC:NAME@ placeholders through lookup first. It reports
// whether the document was loaded.
func (db *DB) Bootstrap(ctx context.Context, path string, doc []byte, lookup func(string) (string, bool)) (bool, error) {
	loaded := false
	err := db.write(ctx, "bootstrap", func(tx *Tx) error {
		exists, err := tx.Exists(ctx, path)
		if err != nil || exists {
			return err
		}
		resolved, err := crypt.Substitute(doc, lookup, db.crypt.Cipher())
		if err != nil {
			return dberr.InvalidDocument(path, "bootstrap substitution failed", err)
		}
		if _, err := tx.Set(ctx, path, bytes.NewReader(resolved)); err != nil {
			return err
		}
		loaded = true
		return nil
	})
	if err == nil && loaded {
		db.logger.Info("bootstrapped", "path", path)
	}
	return loaded, err
}
